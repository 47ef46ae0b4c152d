// Package sampling 周期的なフレーム取得とエンコードを担う
//
// # 責務
// - 固定周期でティックを発行する (Loop)
// - ティック毎に単調増加するシーケンス番号を払い出す
// - フレームを元の解像度のままJPEGデータURLへ変換する (Encoder)
//
// Loop はネットワーク送信を行わない。送信はティックを受け取った側が非同期で行う
package sampling
