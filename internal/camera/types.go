package camera

import (
	"context"
	"errors"
	"fmt"
)

// Kind はカメラエラーの種別を表す
type Kind string

const (
	KindPermissionDenied  Kind = "permission_denied"  // デバイスへのアクセスが拒否された
	KindDeviceUnavailable Kind = "device_unavailable" // デバイスが存在しない・利用できない
	KindStreamFailed      Kind = "stream_failed"      // ストリームの開始に失敗した
)

var (
	// ErrAlreadyAcquired は既にストリームを保持している状態でAcquireしたことを表す
	ErrAlreadyAcquired = errors.New("カメラは既に使用中です")

	// ErrNoDevice はカメラデバイスが1台も見つからないことを表す
	ErrNoDevice = errors.New("カメラデバイスが見つかりません")
)

// Error はカメラ取得の失敗を表す
type Error struct {
	Kind   Kind
	Device string
	Err    error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindPermissionDenied:
		msg = "カメラへのアクセスが拒否されました"
	case KindDeviceUnavailable:
		msg = "カメラを利用できません"
	default:
		msg = "カメラストリームを開始できません"
	}

	if e.Device != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Device)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind はerrが指定された種別のカメラエラーかどうかを返す
func IsKind(err error, kind Kind) bool {
	var camErr *Error
	if errors.As(err, &camErr) {
		return camErr.Kind == kind
	}
	return false
}

// Settings はストリームの目標設定
// 実際の値はハードウェアの対応状況に依存する
type Settings struct {
	FPS    int // フレームレート
	Width  int // 画像幅
	Height int // 画像高さ
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device string // デバイスパス
	Name   string // デバイス名
	Driver string // ドライバー名
}

// Discovery はカメラデバイスの検出とアクセス確認を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// CheckAccess はデバイスを開けるかを確認し、失敗時は *Error を返す
	CheckAccess(ctx context.Context, device string) error

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// Source はデバイスからJPEGフレームのストリームを開く
type Source interface {
	Open(ctx context.Context, device string, settings Settings) (Stream, error)
}

// Stream は開かれたカメラストリーム
type Stream interface {
	// Frames はJPEGフレームを返すチャンネル。ストリーム終了時にクローズされる
	Frames() <-chan []byte

	// Err はストリームが異常終了した場合の原因を返す
	Err() error

	// Close はストリームを停止する。複数回呼んでもよい
	Close() error
}
