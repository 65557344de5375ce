package camera

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// CaptureLoop は1台のカメラへの上流接続を1本だけ持ち、
// デコードしたフレームを FrameBuffer に書き込み続ける
//
// 状態遷移: Idle → Connecting → Running → Stopping → Stopped
// 停止要求はイテレーションの境界でのみ観測される。読み取りの途中では中断しない。
type CaptureLoop struct {
	url    string
	opener Opener
	buffer *FrameBuffer
	seq    *atomic.Uint64
	cfg    LoopConfig
	logger zerolog.Logger

	// after が閉じられるまで接続を開始しない（前のループの終了待ち）
	after <-chan struct{}

	mu          sync.Mutex
	state       State
	resumeState State
	exiting     bool
	stats       LoopStats

	wake chan struct{}
	done chan struct{}
}

// newCaptureLoop は新しいCaptureLoopを作成する（Idle状態）
func newCaptureLoop(rawURL string, opener Opener, buffer *FrameBuffer, seq *atomic.Uint64,
	cfg LoopConfig, logger zerolog.Logger, after <-chan struct{}) *CaptureLoop {
	return &CaptureLoop{
		url:    rawURL,
		opener: opener,
		buffer: buffer,
		seq:    seq,
		cfg:    cfg,
		logger: logger.With().Str("url", redactURL(rawURL)).Logger(),
		after:  after,
		state:  StateIdle,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// URL はループが接続に使うURLを返す
func (l *CaptureLoop) URL() string {
	return l.url
}

// State は現在の状態を返す
func (l *CaptureLoop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats は統計情報のコピーを返す
func (l *CaptureLoop) Stats() LoopStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Done はループが Stopped に遷移し、上流接続を解放した後に閉じられる
func (l *CaptureLoop) Done() <-chan struct{} {
	return l.done
}

// Wait はループの終了を待つ
func (l *CaptureLoop) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start はループを起動する。Idle 以外の状態では何もしない
func (l *CaptureLoop) start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateIdle {
		return
	}
	l.state = StateConnecting
	go l.run()
}

// requestStop は停止を要求する。完了は待たない
func (l *CaptureLoop) requestStop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateIdle:
		l.state = StateStopped
		close(l.done)
		return
	case StateConnecting, StateRunning:
		l.resumeState = l.state
		l.state = StateStopping
	default:
		return
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// resume はまだ観測されていない停止要求を取り消す
// ループが動作中（または取り消しに成功した）場合に true を返す
func (l *CaptureLoop) resume() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateConnecting, StateRunning:
		return true
	case StateStopping:
		if l.exiting {
			return false
		}
		l.state = l.resumeState
		// 停止要求のために送った起床通知は不要になる
		select {
		case <-l.wake:
		default:
		}
		return true
	default:
		return false
	}
}

// observeStop はイテレーション境界で停止要求を確認する
// true を返した後は resume できない
func (l *CaptureLoop) observeStop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateStopping {
		l.exiting = true
		return true
	}
	return false
}

// sleep は d だけ待つ。停止要求があれば早めに戻る
func (l *CaptureLoop) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-l.wake:
	}
}

// run はループ本体。専用のゴルーチンで実行される
func (l *CaptureLoop) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer l.finish()

	// 前のループが上流接続を解放するまで待つ。停止要求は connect の先頭で観測される
	if l.after != nil {
		<-l.after
	}

	for {
		decoder := l.connect(ctx)
		if decoder == nil {
			return
		}

		l.logger.Info().Msg("キャプチャを開始しました")
		lost := l.capture(decoder)
		if err := decoder.Close(); err != nil {
			l.logger.Warn().Err(err).Msg("上流接続のクローズに失敗しました")
		}

		if !lost {
			l.logger.Info().Msg("キャプチャを停止しました")
			return
		}
		if l.cfg.Reconnect.MaxRetries == 0 {
			l.logger.Warn().Msg("上流との接続が切れました")
			return
		}

		l.mu.Lock()
		l.stats.Reconnects++
		l.mu.Unlock()

		delay := l.cfg.Reconnect.Backoff(1)
		l.logger.Warn().Dur("delay", delay).Msg("上流との接続が切れました。再接続します")
		l.sleep(delay)
		if !l.reconnecting() {
			return
		}
	}
}

// connect は再接続方針に従って上流を開く
// 開けなかった場合、または停止要求を受けた場合は nil を返す
func (l *CaptureLoop) connect(ctx context.Context) Decoder {
	for attempt := 0; ; attempt++ {
		if l.observeStop() {
			return nil
		}

		decoder, err := l.opener.Open(ctx, l.url, l.cfg.Open)
		if err == nil {
			if !l.promote() {
				// 接続中に停止要求が来た
				if cerr := decoder.Close(); cerr != nil {
					l.logger.Warn().Err(cerr).Msg("上流接続のクローズに失敗しました")
				}
				return nil
			}
			return decoder
		}

		l.recordError(err)
		l.logger.Error().Err(err).Int("attempt", attempt+1).Msg("上流を開けませんでした")

		if attempt >= l.cfg.Reconnect.MaxRetries {
			if l.cfg.Reconnect.MaxRetries > 0 {
				l.logger.Error().Int("max_retries", l.cfg.Reconnect.MaxRetries).Msg("再接続の上限に達しました")
			}
			return nil
		}

		l.mu.Lock()
		l.stats.Reconnects++
		l.mu.Unlock()

		delay := l.cfg.Reconnect.Backoff(attempt + 1)
		l.logger.Warn().Dur("delay", delay).Msg("再接続を待機します")
		l.sleep(delay)
	}
}

// capture はフレームの読み取りを停止要求まで繰り返す
// 上流がストリームの終了を通知した場合は true を返す
func (l *CaptureLoop) capture(decoder Decoder) bool {
	interval := l.cfg.interval()
	policy := l.cfg.ReadFailure
	failures := 0

	for !l.observeStop() {
		started := time.Now()

		img, err := decoder.Read()
		if errors.Is(err, ErrStreamClosed) {
			l.recordError(err)
			return true
		}
		if err != nil {
			failures++
			degraded := l.recordReadFailure(err, failures)
			if failures == 1 {
				l.logger.Warn().Err(err).Msg("フレームを取得できませんでした")
			}
			if degraded {
				if policy.MaxConsecutiveFailures > 0 && failures == policy.MaxConsecutiveFailures {
					l.logger.Warn().Int("failures", failures).Msg("読み取り失敗が続いています (degraded)")
				}
				l.sleep(policy.FailureBackoff)
			}
			continue
		}

		if failures > 0 {
			l.logger.Info().Int("failures", failures).Msg("フレームの取得が回復しました")
			failures = 0
		}

		frame := NewFrame(l.seq.Add(1), img, time.Now())
		l.buffer.Push(frame)
		l.recordFrame(frame)

		if wait := interval - time.Since(started); wait > 0 {
			l.sleep(wait)
		}
	}
	return false
}

// promote は接続に成功したループを Running に遷移させる
// 接続中に停止要求を受けていた場合は false を返し、以後 resume できなくなる
func (l *CaptureLoop) promote() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateConnecting {
		l.state = StateRunning
		return true
	}
	l.exiting = true
	return false
}

// reconnecting は接続が切れたループを Connecting に戻す
// 停止要求を受けていた場合は false を返す
func (l *CaptureLoop) reconnecting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateRunning:
		l.state = StateConnecting
		return true
	case StateStopping:
		l.exiting = true
	}
	return false
}

// finish はループを Stopped に遷移させる
func (l *CaptureLoop) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = StateStopped
	l.exiting = true
	l.stats.Degraded = false
	close(l.done)
}

func (l *CaptureLoop) recordFrame(frame *Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.FramesDecoded++
	l.stats.LastFrameAt = frame.CapturedAt
	l.stats.Degraded = false
}

func (l *CaptureLoop) recordReadFailure(err error, consecutive int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.ReadFailures++
	l.stats.LastError = err.Error()
	limit := l.cfg.ReadFailure.MaxConsecutiveFailures
	if limit > 0 && consecutive >= limit {
		l.stats.Degraded = true
	}
	return l.stats.Degraded
}

func (l *CaptureLoop) recordError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.LastError = err.Error()
}

// redactURL はログ出力用にURL中のパスワードを伏せる
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
