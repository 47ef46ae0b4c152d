package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

const (
	readChunkSize = 64 * 1024
	stderrTailMax = 2048

	// EOIが来ないまま溜まった未完成フレームはこのサイズで破棄する
	maxPendingBytes = 8 * 1024 * 1024
)

// FFmpegSource は ffmpeg 経由でV4L2デバイスからMJPEGストリームを取得する
type FFmpegSource struct {
	command string
}

// NewFFmpegSource は新しいFFmpegSourceを作成する
func NewFFmpegSource() *FFmpegSource {
	return &FFmpegSource{command: "ffmpeg"}
}

// Open は ffmpeg を起動しフレームの読み取りを開始する
// ストリームの寿命は ctx ではなく Close で管理する
func (s *FFmpegSource) Open(ctx context.Context, device string, settings Settings) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(s.command); err != nil {
		return nil, &Error{Kind: KindStreamFailed, Device: device, Err: fmt.Errorf("ffmpegが見つかりません: %w", err)}
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(streamCtx, s.command, ffmpegArgs(device, settings)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &Error{Kind: KindStreamFailed, Device: device, Err: fmt.Errorf("stdoutパイプの作成に失敗: %w", err)}
	}
	tail := &tailBuffer{max: stderrTailMax}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &Error{Kind: KindStreamFailed, Device: device, Err: fmt.Errorf("ffmpegの起動に失敗: %w", err)}
	}

	st := &ffmpegStream{
		device: device,
		cmd:    cmd,
		cancel: cancel,
		stderr: tail,
		frames: make(chan []byte, 2),
		done:   make(chan struct{}),
	}
	go st.read(stdout)

	log.Debug().Str("device", device).Int("width", settings.Width).Int("height", settings.Height).
		Int("fps", settings.FPS).Msg("ffmpegストリームを開始しました")

	return st, nil
}

func ffmpegArgs(device string, settings Settings) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}
	if settings.Width > 0 && settings.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", settings.Width, settings.Height))
	}
	if settings.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(settings.FPS))
	}
	return append(args,
		"-i", device,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
}

type ffmpegStream struct {
	device string
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *tailBuffer

	frames chan []byte
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	err       error
}

func (s *ffmpegStream) Frames() <-chan []byte {
	return s.frames
}

func (s *ffmpegStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		<-s.done
	})
	return nil
}

// read は stdout からJPEGフレームを切り出して送信する
func (s *ffmpegStream) read(stdout io.Reader) {
	defer close(s.done)
	defer close(s.frames)

	var pending []byte
	chunk := make([]byte, readChunkSize)
	var readErr error
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			var frames [][]byte
			var dropped bool
			frames, pending, dropped = splitJPEGFramesLimit(append(pending, chunk[:n]...), maxPendingBytes)
			if dropped {
				log.Warn().Str("device", s.device).Int("limit", maxPendingBytes).Msg("未完成のフレームが上限を超えたため破棄しました")
			}
			for _, frame := range frames {
				sendLatest(s.frames, frame)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	waitErr := s.cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	switch {
	case readErr != nil:
		s.err = fmt.Errorf("フレーム読み取りエラー: %w", readErr)
	case waitErr != nil:
		s.err = fmt.Errorf("ffmpegが終了しました: %w (stderr: %s)", waitErr, s.stderr.String())
	default:
		s.err = errors.New("ffmpegが予期せず終了しました")
	}
	log.Warn().Err(s.err).Str("device", s.device).Msg("カメラストリームが終了しました")
}

// splitJPEGFrames はバッファから完全なJPEGフレームを切り出す
// 戻り値の rest は次の読み取りで続きを待つ未完成部分
func splitJPEGFrames(data []byte) (frames [][]byte, rest []byte) {
	for {
		start := bytes.Index(data, jpegSOI)
		if start == -1 {
			// SOIの前半(0xFF)だけが末尾にある可能性を残す
			if n := len(data); n > 0 && data[n-1] == 0xFF {
				return frames, append([]byte(nil), data[n-1:]...)
			}
			return frames, nil
		}

		end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
		if end == -1 {
			return frames, append([]byte(nil), data[start:]...)
		}
		end += start + len(jpegSOI) + len(jpegEOI)

		frame := make([]byte, end-start)
		copy(frame, data[start:end])
		frames = append(frames, frame)

		data = data[end:]
	}
}

// sendLatest はチャンネルが満杯なら最も古いフレームを捨てて送信する
func sendLatest(ch chan []byte, frame []byte) {
	for {
		select {
		case ch <- frame:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// tailBuffer は書き込まれた内容の末尾だけを保持する
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = append([]byte(nil), t.buf[len(t.buf)-t.max:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}

// splitJPEGFramesLimit は splitJPEGFrames と同じだが、rest が limit を超えたら捨てる
func splitJPEGFramesLimit(data []byte, limit int) (frames [][]byte, rest []byte, dropped bool) {
	frames, rest = splitJPEGFrames(data)
	if len(rest) > limit {
		return frames, nil, true
	}
	return frames, rest, false
}
