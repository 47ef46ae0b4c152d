// Package history 監視セッション中に発生した警告の履歴を保存する
package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"drowsewatch/internal/scoring"
)

// ErrClosed はクローズ済みのストアを操作したことを表す
var ErrClosed = errors.New("履歴ストアはクローズされています")

// Event は1件の警告
type Event struct {
	SessionID    string           `json:"session_id"`
	Seq          uint64           `json:"seq"`
	Type         string           `json:"type,omitempty"`
	Metrics      *scoring.Metrics `json:"metrics,omitempty"`
	DetectorType string           `json:"detector_type,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// Store は警告履歴の保存先
type Store interface {
	// Record は警告を1件保存する
	Record(ctx context.Context, event Event) error

	// List は指定セッションの警告を新しい順に最大 limit 件返す
	List(ctx context.Context, sessionID string, limit int) ([]Event, error)

	Close() error
}

// MemoryStore は直近 capacity 件をメモリ上に保持するストア
type MemoryStore struct {
	mu       sync.RWMutex
	events   []Event
	next     int
	full     bool
	capacity int
	closed   bool
}

// NewMemoryStore は新しいMemoryStoreを作成する
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryStore{
		events:   make([]Event, capacity),
		capacity: capacity,
	}
}

// Record は警告を保存する。容量を超えた場合は最も古いものから上書きする
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.events[s.next] = event
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// List は指定セッションの警告を新しい順に返す
func (s *MemoryStore) List(_ context.Context, sessionID string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	size := s.next
	if s.full {
		size = s.capacity
	}

	result := []Event{}
	for i := 0; i < size; i++ {
		if limit > 0 && len(result) >= limit {
			break
		}
		idx := (s.next - 1 - i + s.capacity) % s.capacity
		if s.events[idx].SessionID == sessionID {
			result = append(result, s.events[idx])
		}
	}
	return result, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
