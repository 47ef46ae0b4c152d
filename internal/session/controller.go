package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"drowsewatch/internal/alert"
	"drowsewatch/internal/camera"
	"drowsewatch/internal/history"
	"drowsewatch/internal/metrics"
	"drowsewatch/internal/sampling"
	"drowsewatch/internal/scoring"
)

var (
	// ErrBackendOffline は判定サービスがオンラインでない間に開始しようとしたことを表す
	ErrBackendOffline = errors.New("判定サービスがオフラインのため監視を開始できません")

	// ErrClosed はクローズ済みのControllerを操作したことを表す
	ErrClosed = errors.New("セッションコントローラーは終了しています")
)

const (
	playTimeout    = 10 * time.Second
	recordTimeout  = 2 * time.Second
	closeWaitLimit = 3 * time.Second
)

// Camera はカメラストリームの取得と解放を行う
type Camera interface {
	Acquire(ctx context.Context) (*camera.Handle, error)
	Release(h *camera.Handle)
}

// Surface はライブ映像の表示面
type Surface interface {
	NaturalSize() (int, int)
	Snapshot() (image.Image, error)
}

// Scorer はリモート判定サービスの呼び出し
type Scorer interface {
	Score(ctx context.Context, frame scoring.EncodedImage, thresholds scoring.Thresholds) (*scoring.AlertInfo, error)
	CheckHealth(ctx context.Context) error
}

// FrameEncoder はフレームを送信用に変換する
type FrameEncoder interface {
	Encode(img image.Image) (scoring.EncodedImage, error)
}

// Options はControllerの構成要素
type Options struct {
	Camera  Camera
	Surface Surface
	Scorer  Scorer
	Encoder FrameEncoder
	Player  alert.Player     // nil なら再生しない
	History history.Store    // nil ならメモリ上に保持
	Metrics *metrics.Metrics // nil なら内部で作成

	Period       time.Duration
	MaxInFlight  int // 0 なら上限なし
	Thresholds   scoring.Thresholds
	SoundEnabled bool
}

// Controller は監視セッションを管理する
// カメラ・サンプリングループ・判定呼び出しを束ね、セッション状態を唯一更新する
type Controller struct {
	camera  Camera
	surface Surface
	scorer  Scorer
	encoder FrameEncoder
	player  alert.Player
	history history.Store
	metrics *metrics.Metrics

	loop        *sampling.Loop
	period      time.Duration
	maxInFlight int

	// Start/Stop/Close を直列化する
	opMu sync.Mutex

	mu            sync.RWMutex
	state         State
	generation    uint64
	handle        *camera.Handle
	sessionCtx    context.Context
	cancelSession context.CancelFunc
	inFlight      int
	closed        bool

	baseCtx    context.Context
	cancelBase context.CancelFunc
	workers    sync.WaitGroup

	subMu       sync.Mutex
	subscribers map[string]chan State
}

// NewController は新しいControllerを作成する
func NewController(opts Options) (*Controller, error) {
	if opts.Camera == nil || opts.Surface == nil || opts.Scorer == nil || opts.Encoder == nil {
		return nil, errors.New("カメラ・表示面・判定クライアント・エンコーダは必須です")
	}
	if opts.Period <= 0 {
		return nil, fmt.Errorf("%w: %s", sampling.ErrInvalidPeriod, opts.Period)
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxInFlight < 0 {
		return nil, fmt.Errorf("無効な同時送信数: %d", opts.MaxInFlight)
	}
	if opts.Player == nil {
		opts.Player = alert.NopPlayer{}
	}
	if opts.History == nil {
		opts.History = history.NewMemoryStore(100)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Controller{
		camera:      opts.Camera,
		surface:     opts.Surface,
		scorer:      opts.Scorer,
		encoder:     opts.Encoder,
		player:      opts.Player,
		history:     opts.History,
		metrics:     opts.Metrics,
		loop:        sampling.NewLoop(),
		period:      opts.Period,
		maxInFlight: opts.MaxInFlight,
		state: State{
			Phase:         PhaseIdle,
			BackendStatus: BackendChecking,
			Thresholds:    opts.Thresholds,
			SoundEnabled:  opts.SoundEnabled,
			UpdatedAt:     time.Now(),
		},
		baseCtx:     baseCtx,
		cancelBase:  cancel,
		subscribers: make(map[string]chan State),
	}, nil
}

// State は現在の状態のスナップショットを返す
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

// Start は監視を開始する
// 判定サービスがオンラインでなければ ErrBackendOffline を返す
// 既に監視中の場合は前のセッションを完全に停止してから開始する
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.startLocked(ctx)
}

// Stop は監視を停止する。停止中であれば何もしない
func (c *Controller) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stopLocked()
}

// Toggle は停止中なら開始し、それ以外なら停止する
func (c *Controller) Toggle(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	idle := c.state.Phase == PhaseIdle
	c.mu.RUnlock()

	if idle {
		return c.startLocked(ctx)
	}
	c.stopLocked()
	return nil
}

func (c *Controller) startLocked(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	backend := c.state.BackendStatus
	active := c.state.Phase != PhaseIdle
	c.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if backend != BackendOnline {
		return ErrBackendOffline
	}
	if active {
		c.stopLocked()
	}

	c.update(func(s *State) {
		s.Phase = PhaseStarting
		s.CameraError = ""
	})

	handle, err := c.camera.Acquire(ctx)
	if err != nil {
		c.update(func(s *State) {
			s.Phase = PhaseIdle
			s.IsMonitoring = false
			s.CameraError = err.Error()
		})
		c.metrics.CameraError(cameraErrorKind(err))
		log.Warn().Err(err).Msg("カメラの取得に失敗しました")
		return err
	}

	sessionCtx, cancel := context.WithCancel(c.baseCtx)
	now := time.Now()

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.handle = handle
	c.sessionCtx = sessionCtx
	c.cancelSession = cancel
	c.inFlight = 0
	c.state.SessionID = uuid.New().String()
	c.state.Phase = PhaseMonitoring
	c.state.IsMonitoring = true
	c.state.CameraError = ""
	c.state.Alert = nil
	c.state.LastError = ""
	c.state.LastAppliedSeq = 0
	c.state.Counters = Counters{}
	c.state.StartedAt = &now
	c.state.UpdatedAt = now
	sessionID := c.state.SessionID
	snapshot := c.state.clone()
	c.mu.Unlock()

	if err := c.loop.Start(c.period, func(seq uint64) { c.tick(gen, seq) }); err != nil {
		c.stopLocked()
		return fmt.Errorf("サンプリングループの開始に失敗: %w", err)
	}

	c.workers.Add(1)
	go c.watchStream(gen, handle)

	c.metrics.SessionStarted()
	c.metrics.SetMonitoring(true)
	c.broadcast(snapshot)

	log.Info().Str("session", sessionID).Str("device", handle.Device).Dur("period", c.period).Msg("監視を開始しました")
	return nil
}

func (c *Controller) stopLocked() {
	c.mu.Lock()
	if c.state.Phase == PhaseIdle && c.handle == nil {
		c.mu.Unlock()
		return
	}
	// 世代を進めて以降に完了するレスポンスを全て無効にする
	c.generation++
	c.state.Phase = PhaseStopping
	c.state.UpdatedAt = time.Now()
	handle := c.handle
	cancel := c.cancelSession
	sessionID := c.state.SessionID
	c.handle = nil
	c.cancelSession = nil
	c.sessionCtx = nil
	snapshot := c.state.clone()
	c.mu.Unlock()
	c.broadcast(snapshot)

	c.loop.Stop()
	if cancel != nil {
		cancel()
	}
	c.camera.Release(handle)

	c.update(func(s *State) {
		s.Phase = PhaseIdle
		s.IsMonitoring = false
	})
	c.metrics.SetMonitoring(false)

	log.Info().Str("session", sessionID).Msg("監視を停止しました")
}

// tick はサンプリングループから呼ばれる
// フレームのエンコードまでを同期で行い、送信は別ゴルーチンで行う
func (c *Controller) tick(gen, seq uint64) {
	c.mu.Lock()
	if gen != c.generation || !c.state.IsMonitoring {
		c.mu.Unlock()
		return
	}
	c.state.Counters.TicksIssued++
	c.metrics.TickIssued()

	if w, h := c.surface.NaturalSize(); w == 0 || h == 0 {
		c.skipLocked(metrics.SkipNotReady)
		c.mu.Unlock()
		return
	}
	if c.maxInFlight > 0 && c.inFlight >= c.maxInFlight {
		c.skipLocked(metrics.SkipInFlight)
		c.mu.Unlock()
		return
	}
	c.inFlight++
	ctx := c.sessionCtx
	thresholds := c.state.Thresholds
	c.mu.Unlock()

	frame, err := c.captureFrame()
	if err != nil {
		log.Debug().Err(err).Uint64("seq", seq).Msg("フレームの取得に失敗したためティックをスキップします")
		c.mu.Lock()
		if gen == c.generation {
			c.inFlight--
			c.skipLocked(metrics.SkipEncode)
		}
		c.mu.Unlock()
		return
	}

	c.workers.Add(1)
	go c.score(ctx, gen, seq, frame, thresholds)
}

func (c *Controller) skipLocked(reason string) {
	c.state.Counters.TicksSkipped++
	c.metrics.TickSkipped(reason)
}

func (c *Controller) captureFrame() (scoring.EncodedImage, error) {
	img, err := c.surface.Snapshot()
	if err != nil {
		return scoring.EncodedImage{}, err
	}
	return c.encoder.Encode(img)
}

func (c *Controller) score(ctx context.Context, gen, seq uint64, frame scoring.EncodedImage, thresholds scoring.Thresholds) {
	defer c.workers.Done()

	done := c.metrics.ScoreStarted()
	info, err := c.scorer.Score(ctx, frame, thresholds)
	done()

	c.complete(gen, seq, info, err)
}

// complete は判定結果を状態へ反映する
// 世代が変わっている、監視中でない、より新しいサンプルが反映済み、のいずれかなら破棄する
func (c *Controller) complete(gen, seq uint64, info *scoring.AlertInfo, err error) {
	c.mu.Lock()

	if gen != c.generation || !c.state.IsMonitoring {
		c.mu.Unlock()
		c.metrics.ResponseDiscarded()
		log.Debug().Uint64("seq", seq).Msg("停止後に届いたレスポンスを破棄しました")
		return
	}

	c.inFlight--

	if seq <= c.state.LastAppliedSeq {
		c.state.Counters.ResponsesDiscarded++
		c.mu.Unlock()
		c.metrics.ResponseDiscarded()
		log.Debug().Uint64("seq", seq).Msg("古いサンプルのレスポンスを破棄しました")
		return
	}

	c.state.LastAppliedSeq = seq
	c.state.UpdatedAt = time.Now()

	var play bool
	var event *history.Event
	if err != nil {
		c.state.Alert = scoring.ErrorInfo()
		c.state.LastError = err.Error()
		c.state.Counters.ScoreFailures++
		c.metrics.ScoreFailed()
	} else {
		c.state.Alert = info
		c.state.LastError = ""
		c.state.Counters.ResponsesApplied++
		c.metrics.ResponseApplied()

		if info.Alert {
			c.state.Counters.AlertsRaised++
			c.metrics.AlertRaised(info.Type)
			play = c.state.SoundEnabled
			event = &history.Event{
				SessionID:    c.state.SessionID,
				Seq:          seq,
				Type:         info.Type,
				Metrics:      info.Metrics,
				DetectorType: info.DetectorType,
				OccurredAt:   c.state.UpdatedAt,
			}
		}
	}
	snapshot := c.state.clone()
	c.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Uint64("seq", seq).Msg("判定サービスの呼び出しに失敗しました")
	}

	c.broadcast(snapshot)

	if play {
		c.workers.Add(1)
		go c.playAlert()
	}
	if event != nil {
		c.workers.Add(1)
		go c.recordAlert(*event)
	}
}

// playAlert は警告音を1回再生する。失敗はログに残すだけ
func (c *Controller) playAlert() {
	defer c.workers.Done()

	ctx, cancel := context.WithTimeout(c.baseCtx, playTimeout)
	defer cancel()

	if err := c.player.Play(ctx); err != nil {
		log.Warn().Err(err).Msg("警告音の再生に失敗しました")
	}
}

func (c *Controller) recordAlert(event history.Event) {
	defer c.workers.Done()

	ctx, cancel := context.WithTimeout(c.baseCtx, recordTimeout)
	defer cancel()

	if err := c.history.Record(ctx, event); err != nil {
		log.Warn().Err(err).Str("session", event.SessionID).Msg("警告履歴の保存に失敗しました")
	}
}

// watchStream は監視中にカメラストリームが途切れた場合にエラーを表示する
func (c *Controller) watchStream(gen uint64, h *camera.Handle) {
	defer c.workers.Done()

	select {
	case <-h.Done():
	case <-c.baseCtx.Done():
		return
	}

	c.mu.Lock()
	if gen != c.generation || !c.state.IsMonitoring {
		c.mu.Unlock()
		return
	}
	msg := "カメラストリームが終了しました"
	if err := h.Err(); err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	c.state.CameraError = msg
	c.state.UpdatedAt = time.Now()
	snapshot := c.state.clone()
	c.mu.Unlock()

	log.Warn().Str("device", h.Device).Msg(msg)
	c.broadcast(snapshot)
}

// SetThresholds はしきい値を更新する。次のサンプルから使われる
func (c *Controller) SetThresholds(t scoring.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.update(func(s *State) {
		s.Thresholds = t
	})
	return nil
}

// SetSoundEnabled は警告音の有効・無効を切り替える
func (c *Controller) SetSoundEnabled(enabled bool) {
	c.update(func(s *State) {
		s.SoundEnabled = enabled
	})
}

// CheckBackend は判定サービスの到達性を確認し状態に反映する
// 結果に関わらず実行中のセッションは止めない
func (c *Controller) CheckBackend(ctx context.Context) BackendStatus {
	status := BackendOnline
	if err := c.scorer.CheckHealth(ctx); err != nil {
		status = BackendOffline
		log.Debug().Err(err).Msg("判定サービスのヘルスチェックに失敗しました")
	}

	c.mu.Lock()
	changed := c.state.BackendStatus != status
	if changed {
		c.state.BackendStatus = status
		c.state.UpdatedAt = time.Now()
	}
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.metrics.SetBackendOnline(status == BackendOnline)
	if changed {
		log.Info().Str("status", string(status)).Msg("判定サービスの状態が変化しました")
		c.broadcast(snapshot)
	}
	return status
}

// RunHealthChecks は ctx が終了するまで interval 毎にヘルスチェックを行う
func (c *Controller) RunHealthChecks(ctx context.Context, interval time.Duration) {
	c.CheckBackend(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.baseCtx.Done():
			return
		case <-ticker.C:
			c.CheckBackend(ctx)
		}
	}
}

// Alerts は指定セッションの警告履歴を新しい順に返す
func (c *Controller) Alerts(ctx context.Context, sessionID string, limit int) ([]history.Event, error) {
	return c.history.List(ctx, sessionID, limit)
}

// Subscribe は状態変化の購読を開始する
// 受信側が遅れた場合は古いスナップショットから捨てる
func (c *Controller) Subscribe() (string, <-chan State) {
	id := uuid.New().String()
	ch := make(chan State, 4)

	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.RLock()
	closed := c.closed
	snapshot := c.state.clone()
	c.mu.RUnlock()

	if closed {
		close(ch)
		return id, ch
	}

	ch <- snapshot
	c.subscribers[id] = ch
	return id, ch
}

// Unsubscribe は購読を解除する
func (c *Controller) Unsubscribe(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if ch, ok := c.subscribers[id]; ok {
		delete(c.subscribers, id)
		close(ch)
	}
}

// Close は監視を停止し全ての購読を終了する
// 何度呼んでもよい。プロセス終了時は必ず呼ぶこと
func (c *Controller) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.stopLocked()
	c.cancelBase()

	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeWaitLimit):
		log.Warn().Msg("判定呼び出しの終了待ちがタイムアウトしました")
	}

	c.subMu.Lock()
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.subMu.Unlock()

	return nil
}

// update は状態を変更し購読者へ通知する
func (c *Controller) update(fn func(s *State)) {
	c.mu.Lock()
	fn(&c.state)
	c.state.UpdatedAt = time.Now()
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.broadcast(snapshot)
}

func (c *Controller) broadcast(snapshot State) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subscribers {
		for {
			select {
			case ch <- snapshot:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func cameraErrorKind(err error) string {
	var camErr *camera.Error
	if errors.As(err, &camErr) {
		return string(camErr.Kind)
	}
	if errors.Is(err, camera.ErrAlreadyAcquired) {
		return "already_acquired"
	}
	return "other"
}
