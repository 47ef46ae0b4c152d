package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	processFramePath = "/api/process-frame"
	healthPath       = "/api/health"

	// エラーメッセージに含めるレスポンス本文の上限
	maxErrorBody = 512
)

// Error は判定サービス呼び出しの失敗を表す
type Error struct {
	Op         string // "score" または "health"
	StatusCode int    // HTTPステータス (通信エラー時は0)
	Message    string // 表示用メッセージ
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client は判定サービスへのステートレスなHTTPクライアント
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient は新しいClientを作成する
// timeout は1回の呼び出しごとに適用される
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// BaseURL は接続先のベースURLを返す
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Score は1サンプルを送信し判定結果を返す
// 自動リトライは行わない（次のティックが実質的なリトライとなる）
func (c *Client) Score(ctx context.Context, frame EncodedImage, thresholds Thresholds) (*AlertInfo, error) {
	body, err := json.Marshal(frameRequest{
		Frame:      frame.DataURL,
		Thresholds: thresholds,
	})
	if err != nil {
		return nil, &Error{Op: "score", Message: "リクエストの作成に失敗しました", Err: err}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+processFramePath, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Op: "score", Message: "リクエストの作成に失敗しました", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: "score", Message: "判定サービスに接続できません", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Op:         "score",
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body, "判定サービスがエラーを返しました"),
		}
	}

	var info AlertInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &Error{
			Op:         "score",
			StatusCode: resp.StatusCode,
			Message:    "レスポンスの解析に失敗しました",
			Err:        err,
		}
	}

	return &info, nil
}

// CheckHealth は判定サービスの到達性を確認する
// 2xx であれば nil を返す
func (c *Client) CheckHealth(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return &Error{Op: "health", Message: "リクエストの作成に失敗しました", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: "health", Message: "判定サービスに接続できません", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Op: "health", StatusCode: resp.StatusCode, Message: "判定サービスが応答しません"}
	}

	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// errorMessage はエラーレスポンスから表示用メッセージを取り出す
// {"error": "..."} 形式であればその値を、そうでなければ本文の先頭を使う
func errorMessage(r io.Reader, fallback string) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return fallback
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}

	return strings.TrimSpace(string(data))
}
