package history

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"drowsewatch/internal/scoring"
)

func TestMemoryStore_RecordAndList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		err := store.Record(ctx, Event{
			SessionID:  "a",
			Seq:        uint64(i),
			Type:       "drowsiness",
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	_ = store.Record(ctx, Event{SessionID: "b", Seq: 99})

	events, err := store.List(ctx, "a", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	// 新しい順
	if events[0].Seq != 3 || events[2].Seq != 1 {
		t.Errorf("Unexpected order: %d, %d", events[0].Seq, events[2].Seq)
	}

	limited, _ := store.List(ctx, "a", 2)
	if len(limited) != 2 || limited[0].Seq != 3 {
		t.Errorf("Unexpected limited result: %+v", limited)
	}

	empty, _ := store.List(ctx, "unknown", 5)
	if empty == nil || len(empty) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", empty)
	}
}

func TestMemoryStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)

	for i := 1; i <= 5; i++ {
		_ = store.Record(ctx, Event{SessionID: "s", Seq: uint64(i)})
	}

	events, _ := store.List(ctx, "s", 0)
	if len(events) != 3 {
		t.Fatalf("Expected capacity-bounded 3 events, got %d", len(events))
	}
	want := []uint64{5, 4, 3}
	for i, e := range events {
		if e.Seq != want[i] {
			t.Errorf("events[%d].Seq = %d, want %d", i, e.Seq, want[i])
		}
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore(1)
	_ = store.Close()

	if err := store.Record(context.Background(), Event{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := store.List(context.Background(), "", 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

// REDIS_ADDR が設定されている場合のみ実行する
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR が未設定のためスキップ")
	}

	ctx := context.Background()
	store, err := NewRedisStore(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	sessionID := uuid.New().String()
	defer store.client.Del(ctx, sessionKey(sessionID))

	base := time.Now()
	for i := 1; i <= 3; i++ {
		err := store.Record(ctx, Event{
			SessionID:  sessionID,
			Seq:        uint64(i),
			Type:       "drowsiness",
			Metrics:    &scoring.Metrics{EAR: 0.1},
			OccurredAt: base.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	events, err := store.List(ctx, sessionID, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 3 || events[1].Seq != 2 {
		t.Errorf("Unexpected events: %+v", events)
	}
	if events[0].Metrics == nil || events[0].Metrics.EAR != 0.1 {
		t.Errorf("Metrics not preserved: %+v", events[0].Metrics)
	}

	ttl := store.client.TTL(ctx, sessionKey(sessionID)).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("Unexpected TTL: %s", ttl)
	}
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, err := NewRedisStore(ctx, "127.0.0.1:1", "", 0, time.Minute); err == nil {
		t.Error("Expected connection error")
	}
}
