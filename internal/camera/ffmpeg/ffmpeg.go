// Package ffmpeg は ffmpeg コマンドを子プロセスとして起動し、
// image2pipe で出力されるMJPEGをフレーム単位に分割してデコードする
//
// OpenCV を使わない（CGO不要の）デコードバックエンド。
//
// # 前提要件
//   - ffmpeg: RTSPの受信とMJPEGへの変換に使用
//     Ubuntu/Debian: sudo apt install ffmpeg
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"streamrelay/internal/camera"
)

const (
	maxFrameSize = 16 << 20 // 1フレームの最大サイズ
	stderrTail   = 2048     // エラー報告用に保持するstderrの末尾
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// Opener は ffmpeg プロセスで上流を開く
type Opener struct {
	binary string
	logger zerolog.Logger
}

// NewOpener は新しいOpenerを作成する。binary が空の場合は PATH 上の ffmpeg を使う
func NewOpener(binary string, logger zerolog.Logger) *Opener {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Opener{
		binary: binary,
		logger: logger,
	}
}

// Args は ffmpeg に渡す引数を組み立てる
func Args(rawURL string, opts camera.OpenOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	if u, err := url.Parse(rawURL); err == nil && strings.HasPrefix(strings.ToLower(u.Scheme), "rtsp") {
		if opts.Transport != "" {
			args = append(args, "-rtsp_transport", opts.Transport)
		}
		if opts.ReceiveBufferSize > 0 {
			args = append(args, "-buffer_size", strconv.Itoa(opts.ReceiveBufferSize))
		}
	}

	return append(args,
		"-i", rawURL,
		"-an",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
}

// Open は ffmpeg を起動し、最初のフレームが届くまで待つ
// 最初のフレームが得られなければ接続失敗として扱う
func (o *Opener) Open(ctx context.Context, rawURL string, opts camera.OpenOptions) (camera.Decoder, error) {
	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, o.binary, Args(rawURL, opts)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	d := &decoder{
		cmd:     cmd,
		cancel:  cancel,
		scanner: NewFrameScanner(stdout),
		stderr:  stderr,
	}

	first, err := d.next()
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("最初のフレームを取得できませんでした: %w (stderr: %s)", err, stderr.String())
	}
	d.pending = first

	o.logger.Debug().Int("pid", cmd.Process.Pid).Msg("ffmpegを起動しました")
	return d, nil
}

// NewFrameScanner はMJPEGバイト列を1フレームずつ切り出す Scanner を作成する
func NewFrameScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxFrameSize)
	scanner.Split(SplitJPEG)
	return scanner
}

// SplitJPEG は SOI (FF D8) から EOI (FF D9) までを1トークンとする bufio.SplitFunc
// SOI より前のバイトは捨てる
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// マーカーが読み込みの境界で分割されている可能性があるため最後の1バイトは残す
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// 完全なフレームがまだない
		return start, nil, nil
	}

	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

// decoder は1つの ffmpeg プロセスを包む
type decoder struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	scanner *bufio.Scanner
	stderr  *tailBuffer
	pending image.Image

	closeOnce sync.Once
	closeErr  error
}

// Read は次のフレームをデコードして返す
func (d *decoder) Read() (image.Image, error) {
	if d.pending != nil {
		img := d.pending
		d.pending = nil
		return img, nil
	}
	return d.next()
}

func (d *decoder) next() (image.Image, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", camera.ErrStreamClosed, err)
		}
		return nil, camera.ErrStreamClosed
	}

	img, err := jpeg.Decode(bytes.NewReader(d.scanner.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
	}
	return img, nil
}

// Close は ffmpeg プロセスを終了させる
func (d *decoder) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		err := d.cmd.Wait()
		// キャンセルによる終了はエラーとしない
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, context.Canceled) {
			d.closeErr = err
		}
	})
	return d.closeErr
}

// tailBuffer は書き込まれたデータの末尾 limit バイトだけを保持する
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
