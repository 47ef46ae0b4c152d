// Package alert 警告音の再生を担う
//
// 再生結果は呼び出し側で記録するだけで、監視ループには影響させない
package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Player は警告音を1回再生する
type Player interface {
	Play(ctx context.Context) error
}

// CommandPlayer は外部コマンド (aplay 等) で音声ファイルを再生する
type CommandPlayer struct {
	command []string
	file    string
}

// NewCommandPlayer は新しいCommandPlayerを作成する
// command の末尾に file を付与して実行する
func NewCommandPlayer(command []string, file string) *CommandPlayer {
	return &CommandPlayer{
		command: append([]string(nil), command...),
		file:    file,
	}
}

// Play はコマンドを実行し終了を待つ
func (p *CommandPlayer) Play(ctx context.Context) error {
	if len(p.command) == 0 {
		return errors.New("再生コマンドが設定されていません")
	}

	args := append(append([]string(nil), p.command[1:]...), p.file)
	cmd := exec.CommandContext(ctx, p.command[0], args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("警告音の再生に失敗: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// NopPlayer は何もしないPlayer
type NopPlayer struct{}

func (NopPlayer) Play(context.Context) error {
	return nil
}

// RecordingPlayer はテスト用に再生回数を記録するPlayer
type RecordingPlayer struct {
	mu     sync.Mutex
	count  int
	err    error
	played chan struct{}
}

// NewRecordingPlayer は新しいRecordingPlayerを作成する
func NewRecordingPlayer() *RecordingPlayer {
	return &RecordingPlayer{played: make(chan struct{}, 64)}
}

// SetError はテスト用にPlayの戻り値を設定する
func (p *RecordingPlayer) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *RecordingPlayer) Play(context.Context) error {
	p.mu.Lock()
	p.count++
	err := p.err
	p.mu.Unlock()

	select {
	case p.played <- struct{}{}:
	default:
	}
	return err
}

// Count はPlayが呼ばれた回数を返す
func (p *RecordingPlayer) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Played はPlayが呼ばれる度に通知されるチャンネルを返す
func (p *RecordingPlayer) Played() <-chan struct{} {
	return p.played
}
