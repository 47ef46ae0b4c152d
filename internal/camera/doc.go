// Package camera 監視セッション用のカメラストリームを管理する
//
// # 責務
// - V4L2デバイスの検出とアクセス権限の確認
// - ffmpeg経由でのMJPEGストリームの取得
// - 最新フレームを保持する表示面 (Surface) への反映
// - ストリームの取得と解放 (Manager.Acquire / Release)
//
// # 仕様
// - ストリームは同時に1つだけ取得できる。取得中の Acquire は ErrAlreadyAcquired
// - Acquire は最初のフレームが表示面に届くまで待つ
// - 取得に失敗した場合、途中まで開いたストリームは必ず閉じる
// - Release は何度呼んでもよい。nil も受け付ける
// - 失敗は Error{Kind} で返す (permission_denied / device_unavailable / stream_failed)
//
// # 前提要件
//   - v4l-utils: カメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//     Red Hat/Fedora: sudo dnf install v4l-utils
//   - ffmpeg: 画像キャプチャとストリーミングに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//     Red Hat/Fedora: sudo dnf install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
