package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"drowsewatch/internal/alert"
	"drowsewatch/internal/camera"
	"drowsewatch/internal/config"
	"drowsewatch/internal/history"
)

func TestBuild(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Alert.SoundFile = ""

	components, err := Build(context.Background(), cfg,
		camera.NewMockDiscovery([]string{"/dev/video0"}),
		camera.NewMockSource(16, 16, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer func() {
		_ = components.Server.Shutdown()
		_ = components.History.Close()
	}()

	if _, ok := components.History.(*history.MemoryStore); !ok {
		t.Errorf("Expected memory store without redis address, got %T", components.History)
	}

	state := components.Controller.State()
	if state.Thresholds.EAR != cfg.Thresholds.EAR || state.SoundEnabled != cfg.Alert.SoundEnabled {
		t.Errorf("Controller not configured from config: %+v", state)
	}
}

// サーバーの起動に失敗しても監視中のカメラは解放される
func TestServe_StartFailureReleasesCamera(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"alert":false,"status":"READY"}`))
	}))
	defer backend.Close()

	// 使用中のポートを指定して起動を失敗させる
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer func() { _ = occupied.Close() }()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = occupied.Addr().(*net.TCPAddr).Port
	cfg.Scoring.BaseURL = backend.URL
	cfg.Alert.SoundFile = ""

	components, err := Build(context.Background(), cfg,
		camera.NewMockDiscovery([]string{"/dev/video0"}),
		camera.NewMockSource(16, 16, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	components.Controller.CheckBackend(context.Background())
	if err := components.Controller.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if n := components.Camera.ActiveHandles(); n != 1 {
		t.Fatalf("Expected 1 active handle while monitoring, got %d", n)
	}

	if err := serve(context.Background(), cfg, components); err == nil {
		t.Fatal("Expected error for occupied port")
	}

	if n := components.Camera.ActiveHandles(); n != 0 {
		t.Errorf("Expected camera released after start failure, got %d handles", n)
	}
	if components.Controller.State().IsMonitoring {
		t.Error("Expected monitoring stopped after start failure")
	}
}

func TestBuild_InvalidThresholds(t *testing.T) {
	cfg := config.Default()
	cfg.Thresholds.EAR = 0.9

	_, err := Build(context.Background(), cfg,
		camera.NewMockDiscovery(nil),
		camera.NewMockSource(16, 16, 10*time.Millisecond))
	if err == nil {
		t.Error("Expected error for invalid thresholds")
	}
}

func TestNewHistoryStore_RedisFallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	store := newHistoryStore(ctx, config.HistoryConfig{Capacity: 5, RedisAddr: "127.0.0.1:1"})
	defer func() { _ = store.Close() }()

	if _, ok := store.(*history.MemoryStore); !ok {
		t.Errorf("Expected fallback to memory store, got %T", store)
	}
}

func TestNewPlayer(t *testing.T) {
	testCases := []struct {
		name string
		cfg  config.AlertConfig
		nop  bool
	}{
		{"ファイルなし", config.AlertConfig{Player: []string{"aplay"}}, true},
		{"コマンドなし", config.AlertConfig{SoundFile: "alert.wav"}, true},
		{"コマンドあり", config.AlertConfig{SoundFile: "alert.wav", Player: []string{"aplay", "-q"}}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, isNop := newPlayer(tc.cfg).(alert.NopPlayer)
			if isNop != tc.nop {
				t.Errorf("nop = %v, want %v", isNop, tc.nop)
			}
		})
	}
}

func TestSetupLogger(t *testing.T) {
	// 不正なレベルでもパニックしない
	SetupLogger(config.LogConfig{Level: "verbose", Console: false})
	SetupLogger(config.LogConfig{Level: "debug", Console: true})
	SetupLogger(config.LogConfig{Level: "info"})
}
