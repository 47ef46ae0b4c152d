// Package session 監視セッションの制御を提供する
//
// Controller はカメラの取得と解放、サンプリングループ、判定サービスの呼び出しを束ね、
// セッション状態 (State) を唯一更新する。
//
// 停止後や古いサンプルに対するレスポンスは世代番号とシーケンス番号で破棄され、
// 状態が巻き戻ることはない。状態の変化は Subscribe で購読できる。
package session
