package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errReadFailed = errors.New("read failed")

// fakeOpener は上流の代わりに単色画像を返すデコーダを開く
// 同時に開かれているデコーダの最大数を記録する
type fakeOpener struct {
	mu      sync.Mutex
	urls    []string
	openErr error

	readDelay  time.Duration
	closeAfter int64 // この回数読んだらストリーム終了を返す（0 は無制限）
	failReads  atomic.Bool

	opens     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

func (o *fakeOpener) Open(_ context.Context, url string, _ OpenOptions) (Decoder, error) {
	o.opens.Add(1)

	o.mu.Lock()
	o.urls = append(o.urls, url)
	err := o.openErr
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}

	n := o.active.Add(1)
	for {
		m := o.maxActive.Load()
		if n <= m || o.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	return &fakeDecoder{opener: o}, nil
}

func (o *fakeOpener) setOpenErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openErr = err
}

func (o *fakeOpener) openedURLs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

type fakeDecoder struct {
	opener *fakeOpener
	reads  atomic.Int64
	closed atomic.Bool
}

func (d *fakeDecoder) Read() (image.Image, error) {
	n := d.reads.Add(1)
	if d.closed.Load() {
		return nil, ErrStreamClosed
	}

	delay := d.opener.readDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	time.Sleep(delay)

	if limit := d.opener.closeAfter; limit > 0 && n > limit {
		return nil, ErrStreamClosed
	}
	if d.opener.failReads.Load() {
		return nil, errReadFailed
	}
	return testImage(), nil
}

func (d *fakeDecoder) Close() error {
	if d.closed.CompareAndSwap(false, true) {
		d.opener.active.Add(-1)
	}
	return nil
}

func testImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.SetGray(x, x, color.Gray{Y: 255})
	}
	return img
}

func testLoopConfig() LoopConfig {
	return LoopConfig{
		TargetFPS: 200,
		Open:      DefaultOpenOptions(),
		Reconnect: ReconnectPolicy{MaxRetries: 0},
		ReadFailure: ReadFailurePolicy{
			MaxConsecutiveFailures: 3,
			FailureBackoff:         5 * time.Millisecond,
		},
	}
}

func newTestSource(opener Opener) *Source {
	return NewSource("cam1", "rtsp://camera.local/live", opener, DefaultBufferSize, testLoopConfig(), zerolog.Nop())
}

// waitFor は cond が true になるまで待つ
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("条件が満たされないままタイムアウトしました")
}

func waitStopped(t *testing.T, src *Source) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := src.Wait(ctx); err != nil {
		t.Fatalf("キャプチャループが停止しませんでした: %v", err)
	}
}
