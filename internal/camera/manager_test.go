package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestManager(devices []string, device string) (*Manager, *MockDiscovery, *MockSource) {
	discovery := NewMockDiscovery(devices)
	source := NewMockSource(32, 24, 10*time.Millisecond)
	manager := NewManager(discovery, source, device, Settings{FPS: 20, Width: 32, Height: 24})
	return manager, discovery, source
}

func TestManager_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	manager, _, source := newTestManager([]string{"/dev/video0"}, "/dev/video0")

	handle, err := manager.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if handle.ID == "" {
		t.Error("Expected handle ID to be set")
	}
	if handle.Device != "/dev/video0" {
		t.Errorf("Expected device /dev/video0, got %s", handle.Device)
	}
	if manager.ActiveHandles() != 1 {
		t.Errorf("Expected 1 active handle, got %d", manager.ActiveHandles())
	}

	// 取得完了時点で最初のフレームが表示面に届いている
	if w, h := manager.Surface().NaturalSize(); w != 32 || h != 24 {
		t.Errorf("Expected surface 32x24, got %dx%d", w, h)
	}

	manager.Release(handle)

	if manager.ActiveHandles() != 0 {
		t.Errorf("Expected 0 active handles, got %d", manager.ActiveHandles())
	}
	if source.ActiveStreams() != 0 {
		t.Errorf("Expected all streams closed, got %d", source.ActiveStreams())
	}
	if w, h := manager.Surface().NaturalSize(); w != 0 || h != 0 {
		t.Errorf("Expected surface to be cleared, got %dx%d", w, h)
	}
	select {
	case <-handle.Done():
	default:
		t.Error("Expected handle to be done after Release")
	}
}

func TestManager_ReleaseIsIdempotent(t *testing.T) {
	manager, _, source := newTestManager([]string{"/dev/video0"}, "")

	handle, err := manager.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	manager.Release(handle)
	manager.Release(handle)
	manager.Release(nil)

	if source.ActiveStreams() != 0 {
		t.Errorf("Expected 0 active streams, got %d", source.ActiveStreams())
	}
}

func TestManager_AcquireTwice(t *testing.T) {
	ctx := context.Background()
	manager, _, source := newTestManager([]string{"/dev/video0"}, "/dev/video0")

	handle, err := manager.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer manager.Release(handle)

	if _, err := manager.Acquire(ctx); !errors.Is(err, ErrAlreadyAcquired) {
		t.Errorf("Expected ErrAlreadyAcquired, got %v", err)
	}
	if source.OpenCount() != 1 {
		t.Errorf("Expected 1 open, got %d", source.OpenCount())
	}
}

func TestManager_AcquireErrors(t *testing.T) {
	testCases := []struct {
		name     string
		devices  []string
		device   string
		setup    func(d *MockDiscovery, s *MockSource)
		wantKind Kind
	}{
		{
			name:     "パーミッション拒否",
			devices:  []string{"/dev/video0"},
			device:   "/dev/video0",
			setup:    func(d *MockDiscovery, s *MockSource) { d.Deny("/dev/video0") },
			wantKind: KindPermissionDenied,
		},
		{
			name:     "デバイスなし",
			devices:  nil,
			device:   "",
			setup:    func(d *MockDiscovery, s *MockSource) {},
			wantKind: KindDeviceUnavailable,
		},
		{
			name:     "指定デバイスが存在しない",
			devices:  []string{"/dev/video0"},
			device:   "/dev/video3",
			setup:    func(d *MockDiscovery, s *MockSource) {},
			wantKind: KindDeviceUnavailable,
		},
		{
			name:     "ストリーム開始失敗",
			devices:  []string{"/dev/video0"},
			device:   "/dev/video0",
			setup:    func(d *MockDiscovery, s *MockSource) { s.SetFailure(KindStreamFailed) },
			wantKind: KindStreamFailed,
		},
		{
			name:     "ソース側でのパーミッション拒否",
			devices:  []string{"/dev/video0"},
			device:   "/dev/video0",
			setup:    func(d *MockDiscovery, s *MockSource) { s.SetFailure(KindPermissionDenied) },
			wantKind: KindPermissionDenied,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			manager, discovery, source := newTestManager(tc.devices, tc.device)
			tc.setup(discovery, source)

			handle, err := manager.Acquire(context.Background())
			if handle != nil {
				t.Error("Expected nil handle on failure")
			}
			if !IsKind(err, tc.wantKind) {
				t.Errorf("Expected kind %s, got %v", tc.wantKind, err)
			}
			if err != nil && err.Error() == "" {
				t.Error("Expected non-empty error message")
			}

			// 中途半端なストリームが残らない
			if manager.ActiveHandles() != 0 {
				t.Errorf("Expected 0 active handles, got %d", manager.ActiveHandles())
			}
			if source.ActiveStreams() != 0 {
				t.Errorf("Expected 0 active streams, got %d", source.ActiveStreams())
			}
		})
	}
}

func TestManager_ReadyTimeoutClosesStream(t *testing.T) {
	manager, _, source := newTestManager([]string{"/dev/video0"}, "/dev/video0")
	manager.SetReadyTimeout(30 * time.Millisecond)
	source.SetSilent(true)

	_, err := manager.Acquire(context.Background())
	if !IsKind(err, KindStreamFailed) {
		t.Fatalf("Expected stream failed, got %v", err)
	}
	if source.OpenCount() != 1 || source.ActiveStreams() != 0 {
		t.Errorf("Expected stream to be opened and closed, open=%d active=%d", source.OpenCount(), source.ActiveStreams())
	}

	// 失敗後に再取得できる
	source.SetSilent(false)
	handle, err := manager.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after failure failed: %v", err)
	}
	manager.Release(handle)
}

func TestManager_RepeatedCycles(t *testing.T) {
	ctx := context.Background()
	manager, _, source := newTestManager([]string{"/dev/video0"}, "/dev/video0")

	for i := 0; i < 5; i++ {
		handle, err := manager.Acquire(ctx)
		if err != nil {
			t.Fatalf("cycle %d: Acquire failed: %v", i, err)
		}
		manager.Release(handle)
	}

	if source.OpenCount() != 5 {
		t.Errorf("Expected 5 opens, got %d", source.OpenCount())
	}
	if source.ActiveStreams() != 0 || manager.ActiveHandles() != 0 {
		t.Errorf("Expected no leaked streams, streams=%d handles=%d", source.ActiveStreams(), manager.ActiveHandles())
	}
}

func TestManager_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	manager, _, source := newTestManager([]string{"/dev/video0"}, "/dev/video0")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var handles []*Handle
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h, err := manager.Acquire(ctx); err == nil {
				mu.Lock()
				handles = append(handles, h)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(handles) != 1 {
		t.Fatalf("Expected exactly 1 successful Acquire, got %d", len(handles))
	}
	manager.Release(handles[0])

	if source.ActiveStreams() != 0 {
		t.Errorf("Expected 0 active streams, got %d", source.ActiveStreams())
	}
}
