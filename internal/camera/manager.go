package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handle はAcquireで取得したカメラストリームの所有権
// Releaseされるまで Manager が唯一の所有者となる
type Handle struct {
	ID         string
	Device     string
	Name       string
	AcquiredAt time.Time

	stream      Stream
	ready       chan struct{}
	readyOnce   sync.Once
	done        chan struct{}
	releaseOnce sync.Once
}

// Done はストリームが終了したときにクローズされる
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err はストリームが異常終了した場合の原因を返す
func (h *Handle) Err() error {
	return h.stream.Err()
}

// Manager はカメラストリームの取得と解放を管理する
// 同時に保持できるストリームは1つだけ
type Manager struct {
	discovery Discovery
	source    Source
	device    string
	settings  Settings
	surface   *Surface

	readyTimeout time.Duration

	mu        sync.Mutex
	active    *Handle
	acquiring bool
}

// NewManager は新しいManagerを作成する
// device が空の場合は Acquire 時に最初に検出されたデバイスを使う
func NewManager(discovery Discovery, source Source, device string, settings Settings) *Manager {
	return &Manager{
		discovery:    discovery,
		source:       source,
		device:       device,
		settings:     settings,
		surface:      NewSurface(),
		readyTimeout: 5 * time.Second,
	}
}

// SetReadyTimeout は最初のフレームを待つ時間を設定する
func (m *Manager) SetReadyTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyTimeout = d
}

// Surface はストリームが描画される表示面を返す
func (m *Manager) Surface() *Surface {
	return m.surface
}

// ActiveHandles は現在保持しているストリーム数 (0 または 1) を返す
func (m *Manager) ActiveHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return 1
	}
	return 0
}

// Acquire はカメラストリームを開き表示面に結び付ける
// 失敗した場合は途中まで開いたリソースを全て閉じてから *Error を返す
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	if m.active != nil || m.acquiring {
		m.mu.Unlock()
		return nil, ErrAlreadyAcquired
	}
	m.acquiring = true
	readyTimeout := m.readyTimeout
	m.mu.Unlock()

	h, err := m.open(ctx, readyTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquiring = false
	if err != nil {
		return nil, err
	}
	m.active = h

	log.Info().Str("handle", h.ID).Str("device", h.Device).Str("name", h.Name).Msg("カメラストリームを取得しました")
	return h, nil
}

func (m *Manager) open(ctx context.Context, readyTimeout time.Duration) (*Handle, error) {
	device, err := m.resolveDevice(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.discovery.CheckAccess(ctx, device); err != nil {
		return nil, asCameraError(err, KindDeviceUnavailable, device)
	}

	name := device
	if info, err := m.discovery.GetDeviceInfo(ctx, device); err == nil {
		name = info.Name
	}

	stream, err := m.source.Open(ctx, device, m.settings)
	if err != nil {
		return nil, asCameraError(err, KindStreamFailed, device)
	}

	h := &Handle{
		ID:         uuid.New().String(),
		Device:     device,
		Name:       name,
		AcquiredAt: time.Now(),
		stream:     stream,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	go m.pump(h)

	if err := m.waitReady(ctx, h, readyTimeout); err != nil {
		m.closeHandle(h)
		return nil, err
	}

	return h, nil
}

func (m *Manager) resolveDevice(ctx context.Context) (string, error) {
	if m.device != "" {
		return m.device, nil
	}

	devices, err := m.discovery.ScanDevices(ctx)
	if err != nil {
		return "", &Error{Kind: KindDeviceUnavailable, Err: err}
	}
	if len(devices) == 0 {
		return "", &Error{Kind: KindDeviceUnavailable, Err: ErrNoDevice}
	}
	return devices[0], nil
}

// waitReady は最初のフレームが表示面に届くまで待つ
func (m *Manager) waitReady(ctx context.Context, h *Handle, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.ready:
		return nil
	case <-h.done:
		err := h.stream.Err()
		if err == nil {
			err = errors.New("最初のフレームを受信する前にストリームが終了しました")
		}
		return asCameraError(err, KindStreamFailed, h.Device)
	case <-timer.C:
		return &Error{Kind: KindStreamFailed, Device: h.Device, Err: fmt.Errorf("%s以内にフレームを受信できませんでした", timeout)}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump はストリームのフレームを表示面へ流し込む
func (m *Manager) pump(h *Handle) {
	defer close(h.done)
	defer m.surface.reset()

	for frame := range h.stream.Frames() {
		if err := m.surface.publish(frame); err != nil {
			log.Debug().Err(err).Str("handle", h.ID).Msg("不正なフレームを破棄しました")
			continue
		}
		h.readyOnce.Do(func() { close(h.ready) })
	}
}

// Release はストリームを停止し表示面から切り離す
// nil や解放済みのハンドルに対しては何もしない
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}

	m.closeHandle(h)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == h {
		m.active = nil
		log.Info().Str("handle", h.ID).Str("device", h.Device).Msg("カメラストリームを解放しました")
	}
}

func (m *Manager) closeHandle(h *Handle) {
	h.releaseOnce.Do(func() {
		if err := h.stream.Close(); err != nil {
			log.Warn().Err(err).Str("handle", h.ID).Msg("ストリームのクローズに失敗しました")
		}
		<-h.done
	})
}

func asCameraError(err error, kind Kind, device string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var camErr *Error
	if errors.As(err, &camErr) {
		return camErr
	}
	return &Error{Kind: kind, Device: device, Err: err}
}
