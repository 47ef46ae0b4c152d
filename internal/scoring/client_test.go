package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Score(t *testing.T) {
	var got frameRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/process-frame" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"alert":true,"type":"drowsiness","metrics":{"ear":0.1,"mar":0.15,"tilt":1,"eye_frames":12,"yawn_frames":0,"tilt_frames":0},"detector_type":"dlib"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second)
	frame := EncodedImage{DataURL: "data:image/jpeg;base64,AAAA"}
	thresholds := Thresholds{EAR: 0.22, MAR: 0.4, Tilt: 15}

	info, err := client.Score(context.Background(), frame, thresholds)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if got.Frame != frame.DataURL {
		t.Errorf("Expected frame %q, got %q", frame.DataURL, got.Frame)
	}
	if got.Thresholds != thresholds {
		t.Errorf("Expected thresholds %+v, got %+v", thresholds, got.Thresholds)
	}

	if !info.Alert || info.Type != "drowsiness" || info.DetectorType != "dlib" {
		t.Errorf("Unexpected alert info: %+v", info)
	}
	if info.Metrics == nil || info.Metrics.EAR != 0.1 || info.Metrics.EyeFrames != 12 {
		t.Errorf("Unexpected metrics: %+v", info.Metrics)
	}
}

func TestClient_ScoreRequestShape(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte(`{"alert":false}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if _, err := client.Score(context.Background(), EncodedImage{DataURL: "data:image/jpeg;base64,xx"}, Thresholds{EAR: 0.25, MAR: 0.6, Tilt: 20}); err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	thresholds, ok := raw["thresholds"].(map[string]any)
	if !ok {
		t.Fatalf("thresholds missing from body: %v", raw)
	}
	for _, key := range []string{"ear_threshold", "mar_threshold", "tilt_threshold"} {
		if _, ok := thresholds[key]; !ok {
			t.Errorf("Expected key %s in thresholds", key)
		}
	}
}

func TestClient_ScoreErrors(t *testing.T) {
	testCases := []struct {
		name        string
		status      int
		body        string
		wantStatus  int
		wantMessage string
	}{
		{"サーバーエラー", http.StatusInternalServerError, `{"error":"model not loaded"}`, 500, "model not loaded"},
		{"プレーンテキスト", http.StatusBadGateway, "upstream down", 502, "upstream down"},
		{"不正なJSON", http.StatusOK, `{"alert":`, 200, "レスポンスの解析に失敗しました"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, time.Second)
			_, err := client.Score(context.Background(), EncodedImage{}, Thresholds{})
			if err == nil {
				t.Fatal("Expected error")
			}

			var scoreErr *Error
			if !errors.As(err, &scoreErr) {
				t.Fatalf("Expected *Error, got %T", err)
			}
			if scoreErr.StatusCode != tc.wantStatus {
				t.Errorf("Expected status %d, got %d", tc.wantStatus, scoreErr.StatusCode)
			}
			if scoreErr.Message != tc.wantMessage {
				t.Errorf("Expected message %q, got %q", tc.wantMessage, scoreErr.Message)
			}
		})
	}
}

func TestClient_ScoreUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, time.Second)
	_, err := client.Score(context.Background(), EncodedImage{}, Thresholds{})

	var scoreErr *Error
	if !errors.As(err, &scoreErr) {
		t.Fatalf("Expected *Error, got %v", err)
	}
	if scoreErr.StatusCode != 0 {
		t.Errorf("Expected no status for transport failure, got %d", scoreErr.StatusCode)
	}
	if scoreErr.Unwrap() == nil {
		t.Error("Expected wrapped transport error")
	}
}

func TestClient_ScoreTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, 50*time.Millisecond)

	start := time.Now()
	_, err := client.Score(context.Background(), EncodedImage{}, Thresholds{})
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Timeout took too long: %s", elapsed)
	}
}

func TestClient_CheckHealth(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"200はオンライン", http.StatusOK, false},
		{"204もオンライン", http.StatusNoContent, false},
		{"503はオフライン", http.StatusServiceUnavailable, true},
		{"404はオフライン", http.StatusNotFound, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/health" || r.Method != http.MethodGet {
					t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			err := NewClient(server.URL, time.Second).CheckHealth(context.Background())
			if tc.wantErr && err == nil {
				t.Error("Expected error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestThresholds_Validate(t *testing.T) {
	testCases := []struct {
		name       string
		thresholds Thresholds
		wantErr    bool
	}{
		{"下限", Thresholds{EAR: 0.15, MAR: 0.4, Tilt: 10}, false},
		{"上限", Thresholds{EAR: 0.35, MAR: 0.8, Tilt: 30}, false},
		{"典型値", Thresholds{EAR: 0.22, MAR: 0.40, Tilt: 15}, false},
		{"EARが小さすぎる", Thresholds{EAR: 0.1, MAR: 0.5, Tilt: 20}, true},
		{"MARが大きすぎる", Thresholds{EAR: 0.25, MAR: 0.9, Tilt: 20}, true},
		{"Tiltが小さすぎる", Thresholds{EAR: 0.25, MAR: 0.5, Tilt: 5}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.thresholds.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidThresholds) {
					t.Errorf("Expected ErrInvalidThresholds, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}
