package scoring

import (
	"errors"
	"fmt"
)

// しきい値の許容範囲
const (
	MinEAR  = 0.15
	MaxEAR  = 0.35
	MinMAR  = 0.4
	MaxMAR  = 0.8
	MinTilt = 10.0
	MaxTilt = 30.0
)

// ErrInvalidThresholds はしきい値が許容範囲外であることを表す
var ErrInvalidThresholds = errors.New("しきい値が範囲外です")

// Thresholds は判定サービスへサンプル毎に送る判定しきい値
type Thresholds struct {
	EAR  float64 `json:"ear_threshold"`
	MAR  float64 `json:"mar_threshold"`
	Tilt float64 `json:"tilt_threshold"`
}

// Validate はしきい値が許容範囲内かを検証する
func (t Thresholds) Validate() error {
	if t.EAR < MinEAR || t.EAR > MaxEAR {
		return fmt.Errorf("%w: ear=%.3f (%.2f-%.2f)", ErrInvalidThresholds, t.EAR, MinEAR, MaxEAR)
	}
	if t.MAR < MinMAR || t.MAR > MaxMAR {
		return fmt.Errorf("%w: mar=%.3f (%.2f-%.2f)", ErrInvalidThresholds, t.MAR, MinMAR, MaxMAR)
	}
	if t.Tilt < MinTilt || t.Tilt > MaxTilt {
		return fmt.Errorf("%w: tilt=%.1f (%.0f-%.0f)", ErrInvalidThresholds, t.Tilt, MinTilt, MaxTilt)
	}
	return nil
}

// Metrics は判定サービスが返す計測値
type Metrics struct {
	EAR        float64 `json:"ear"`
	MAR        float64 `json:"mar"`
	Tilt       float64 `json:"tilt"`
	EyeFrames  int     `json:"eye_frames"`
	YawnFrames int     `json:"yawn_frames"`
	TiltFrames int     `json:"tilt_frames"`
}

// AlertInfo は判定サービスのレスポンス
// 値の検証や補正は行わず、受け取ったまま保持する
type AlertInfo struct {
	Alert        bool     `json:"alert"`
	Type         string   `json:"type,omitempty"`
	Status       string   `json:"status,omitempty"`
	Metrics      *Metrics `json:"metrics,omitempty"`
	DetectorType string   `json:"detector_type,omitempty"`
}

// StatusError は送信失敗時に表示する合成ステータス
const StatusError = "ERROR"

// ErrorInfo は送信失敗を表す合成AlertInfoを返す
func ErrorInfo() *AlertInfo {
	return &AlertInfo{
		Alert:  false,
		Status: StatusError,
	}
}

// EncodedImage は送信用にエンコードされたフレーム
type EncodedImage struct {
	Data    []byte // JPEGバイト列
	DataURL string // data:image/jpeg;base64,...
	Width   int
	Height  int
}

// frameRequest は /api/process-frame のリクエストボディ
type frameRequest struct {
	Frame      string     `json:"frame"`
	Thresholds Thresholds `json:"thresholds"`
}
