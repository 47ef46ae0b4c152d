package sampling

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrLoopRunning は既に動作中のループを開始しようとしたことを表す
	ErrLoopRunning = errors.New("サンプリングループは既に動作中です")

	// ErrInvalidPeriod は周期が0以下であることを表す
	ErrInvalidPeriod = errors.New("無効なサンプリング周期です")
)

// TickFunc はティック毎に呼ばれるコールバック
// seq はループ生成以降単調増加する。ネットワークI/Oで待たないこと
type TickFunc func(seq uint64)

// Loop は固定周期でティックを発行するサンプリングループ
type Loop struct {
	mu      sync.Mutex
	running bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	seq atomic.Uint64
}

// NewLoop は新しいLoopを作成する
func NewLoop() *Loop {
	return &Loop{}
}

// Start は周期 period でティックの発行を開始する
func (l *Loop) Start(period time.Duration, onTick TickFunc) error {
	if period <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrLoopRunning
	}

	l.running = true
	l.stopCh = make(chan struct{})

	l.wg.Add(1)
	go l.run(period, l.stopCh, onTick)

	return nil
}

// Stop はループを停止し、ゴルーチンの終了を待つ
// Stop が戻った後にティックが発行されることはない
// onTick の中から呼んではならない
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}

	close(l.stopCh)
	l.wg.Wait()
	l.running = false
}

// Running はループが動作中かを返す
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// LastSeq は最後に発行したティックの番号を返す
func (l *Loop) LastSeq() uint64 {
	return l.seq.Load()
}

func (l *Loop) run(period time.Duration, stopCh <-chan struct{}, onTick TickFunc) {
	defer l.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// 停止要求と同時に発火した場合は停止を優先する
			select {
			case <-stopCh:
				return
			default:
			}
			onTick(l.seq.Add(1))
		}
	}
}
