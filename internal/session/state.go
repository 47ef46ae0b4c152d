package session

import (
	"time"

	"drowsewatch/internal/scoring"
)

// Phase はセッションの状態
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseStarting   Phase = "starting"
	PhaseMonitoring Phase = "monitoring"
	PhaseStopping   Phase = "stopping"
)

// BackendStatus は判定サービスの到達性
type BackendStatus string

const (
	BackendChecking BackendStatus = "checking"
	BackendOnline   BackendStatus = "online"
	BackendOffline  BackendStatus = "offline"
)

// Counters はセッション中のティックとレスポンスの集計
type Counters struct {
	TicksIssued        uint64 `json:"ticks_issued"`
	TicksSkipped       uint64 `json:"ticks_skipped"`
	ResponsesApplied   uint64 `json:"responses_applied"`
	ResponsesDiscarded uint64 `json:"responses_discarded"`
	ScoreFailures      uint64 `json:"score_failures"`
	AlertsRaised       uint64 `json:"alerts_raised"`
}

// State はセッション状態のスナップショット
// Controller だけが更新し、表示側にはコピーを渡す
type State struct {
	SessionID      string             `json:"session_id"`
	Phase          Phase              `json:"phase"`
	IsMonitoring   bool               `json:"is_monitoring"`
	CameraError    string             `json:"camera_error"`
	BackendStatus  BackendStatus      `json:"backend_status"`
	Thresholds     scoring.Thresholds `json:"thresholds"`
	SoundEnabled   bool               `json:"sound_enabled"`
	Alert          *scoring.AlertInfo `json:"alert"`
	LastError      string             `json:"last_error"`
	LastAppliedSeq uint64             `json:"last_applied_seq"`
	Counters       Counters           `json:"counters"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// clone はポインタを含めた複製を返す
func (s State) clone() State {
	if s.Alert != nil {
		info := *s.Alert
		if info.Metrics != nil {
			m := *info.Metrics
			info.Metrics = &m
		}
		s.Alert = &info
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	return s
}

// DisplayStatus は表示用のステータス文字列を返す
func (s State) DisplayStatus() string {
	switch {
	case s.Alert == nil:
		return ""
	case s.Alert.Alert:
		return "ALERT"
	default:
		return s.Alert.Status
	}
}
