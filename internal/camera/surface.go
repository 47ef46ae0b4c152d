package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/google/uuid"
)

// ErrNoFrame はまだフレームが届いていないことを表す
var ErrNoFrame = errors.New("フレームがまだ取得されていません")

// Surface はライブ映像の表示面
// 最新のJPEGフレームを保持し、プレビュー購読者へ配信する
type Surface struct {
	mu     sync.RWMutex
	frame  []byte
	width  int
	height int

	subMu       sync.Mutex
	subscribers map[string]chan []byte
}

// NewSurface は空のSurfaceを作成する
func NewSurface() *Surface {
	return &Surface{
		subscribers: make(map[string]chan []byte),
	}
}

// NaturalSize は最新フレームの幅と高さを返す
// ストリームが準備できていない間は 0, 0
func (s *Surface) NaturalSize() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// Latest は最新フレームのJPEGバイト列のコピーを返す
func (s *Surface) Latest() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.frame == nil {
		return nil
	}
	return append([]byte(nil), s.frame...)
}

// Snapshot は最新フレームをデコードして返す
func (s *Surface) Snapshot() (image.Image, error) {
	frame := s.Latest()
	if frame == nil {
		return nil, ErrNoFrame
	}

	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
	}
	return img, nil
}

// Subscribe はプレビュー用のフレーム購読を開始する
func (s *Surface) Subscribe() (string, <-chan []byte) {
	id := uuid.New().String()
	ch := make(chan []byte, 2)

	s.subMu.Lock()
	s.subscribers[id] = ch
	s.subMu.Unlock()

	return id, ch
}

// Unsubscribe は購読を解除しチャンネルをクローズする
func (s *Surface) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

// SubscriberCount は現在の購読者数を返す
func (s *Surface) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subscribers)
}

// publish は新しいフレームを反映する
// JPEGヘッダから寸法を読めないフレームは破棄する
func (s *Surface) publish(frame []byte) error {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("JPEGヘッダの解析に失敗: %w", err)
	}

	s.mu.Lock()
	s.frame = frame
	s.width = cfg.Width
	s.height = cfg.Height
	s.mu.Unlock()

	s.subMu.Lock()
	for _, ch := range s.subscribers {
		sendLatest(ch, frame)
	}
	s.subMu.Unlock()

	return nil
}

// reset はストリームの解放に合わせて表示面を空に戻す
func (s *Surface) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame = nil
	s.width = 0
	s.height = 0
}
