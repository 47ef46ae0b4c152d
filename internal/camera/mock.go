package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io/fs"
	"sync"
	"time"
)

// MockSource はテスト用のモックSource実装
// 単色のJPEGフレームを一定間隔で生成する
type MockSource struct {
	width    int
	height   int
	interval time.Duration

	mu            sync.Mutex
	failKind      Kind
	silent        bool
	openCount     int
	activeStreams int
}

// NewMockSource は新しいMockSourceを作成する
func NewMockSource(width, height int, interval time.Duration) *MockSource {
	return &MockSource{
		width:    width,
		height:   height,
		interval: interval,
	}
}

// SetFailure はテスト用にOpenを指定した種別で失敗させる
// 空文字を渡すと失敗設定を解除する
func (m *MockSource) SetFailure(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failKind = kind
}

// SetSilent はテスト用にフレームを一切送らないストリームを開かせる
func (m *MockSource) SetSilent(silent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent = silent
}

// OpenCount はOpenが成功した回数を返す
func (m *MockSource) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCount
}

// ActiveStreams はクローズされていないストリーム数を返す
func (m *MockSource) ActiveStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeStreams
}

// Open はモックストリームを開く
func (m *MockSource) Open(_ context.Context, device string, _ Settings) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.failKind {
	case "":
	case KindPermissionDenied:
		return nil, &Error{Kind: KindPermissionDenied, Device: device, Err: fs.ErrPermission}
	case KindDeviceUnavailable:
		return nil, &Error{Kind: KindDeviceUnavailable, Device: device, Err: fs.ErrNotExist}
	default:
		return nil, &Error{Kind: m.failKind, Device: device, Err: fmt.Errorf("モック: ストリーム開始に失敗")}
	}

	m.openCount++
	m.activeStreams++

	st := &mockStream{
		source: m,
		frames: make(chan []byte, 2),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go st.run(m.width, m.height, m.interval, m.silent)
	return st, nil
}

func (m *MockSource) streamClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeStreams--
}

type mockStream struct {
	source    *MockSource
	frames    chan []byte
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *mockStream) Frames() <-chan []byte {
	return s.frames
}

func (s *mockStream) Err() error {
	return nil
}

func (s *mockStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.done
		s.source.streamClosed()
	})
	return nil
}

func (s *mockStream) run(width, height int, interval time.Duration, silent bool) {
	defer close(s.done)
	defer close(s.frames)

	if silent {
		<-s.stopCh
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		frame, err := syntheticFrame(width, height, n)
		if err == nil {
			sendLatest(s.frames, frame)
		}

		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// syntheticFrame は番号に応じて色を変えた単色JPEGを生成する
func syntheticFrame(width, height, n int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	c := color.RGBA{R: uint8(n * 16), G: 128, B: uint8(255 - n*16), A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
