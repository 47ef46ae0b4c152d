// Package server は、ローカル操作用のHTTPサーバーとWebSocket通信を管理します。
//
// このパッケージは、セッションコントローラーをHTTP APIとして公開し、
// 状態の変化をWebSocketで、カメラ映像をMJPEGで配信します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - OpenAPI定義 (internal/generated) に基づくルーティングとリクエスト検証
//   - WebSocketによるセッション状態の配信
//   - MJPEGプレビューと操作画面の配信
//   - Prometheusメトリクスの公開
//
// 仕様:
//   - ルーティングはgin、WebSocketはgorilla/websocketを使用
//   - 監視開始の失敗は 409 (判定サービスがオフライン) / 422 (カメラエラー) で返す
//   - シャットダウン時はセッションを停止しカメラを解放してから終了する
package server
