package camera

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Source は1台のカメラの購読者数とキャプチャループを結び付ける
//
// 購読者数が 0 から 1 になるとループを起動し、0 に戻ると停止を要求する。
// 購読者数とループの起動・停止の判断は同じロックの中で行う。
type Source struct {
	id     string
	opener Opener
	cfg    LoopConfig
	buffer *FrameBuffer
	seq    atomic.Uint64
	logger zerolog.Logger

	mu          sync.Mutex
	url         string
	subscribers int
	loop        *CaptureLoop
	starts      int
	closed      bool
	done        chan struct{}
}

// NewSource は新しいSourceを作成する（Idle状態、購読者 0）
func NewSource(id, url string, opener Opener, bufferSize int, cfg LoopConfig, logger zerolog.Logger) *Source {
	return &Source{
		id:     id,
		url:    url,
		opener: opener,
		cfg:    cfg,
		buffer: NewFrameBuffer(bufferSize),
		logger: logger.With().Str("camera_id", id).Logger(),
		done:   make(chan struct{}),
	}
}

// ID はカメラIDを返す
func (s *Source) ID() string {
	return s.id
}

// URL は現在登録されている接続URLを返す
func (s *Source) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Buffer はフレームバッファを返す
func (s *Source) Buffer() *FrameBuffer {
	return s.buffer
}

// Done はソースがレジストリから削除されたときに閉じられる
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// Subscribe は購読者を1人増やし、必要であればキャプチャループを起動する
// 最初のフレームの到着は待たない
func (s *Source) Subscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSourceClosed
	}

	s.subscribers++
	s.ensureRunningLocked()

	s.logger.Debug().Int("subscribers", s.subscribers).Msg("購読を開始しました")
	return nil
}

// Unsubscribe は購読者を1人減らす。0 になったらキャプチャループに停止を要求する
// 停止の完了は待たない。購読者数は 0 未満にならない
func (s *Source) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribers == 0 {
		return
	}
	s.subscribers--

	s.logger.Debug().Int("subscribers", s.subscribers).Msg("購読を終了しました")

	if s.subscribers == 0 && s.loop != nil {
		s.loop.requestStop()
	}
}

// UpdateURL は接続URLを置き換える
// 動作中のループは古いURLのまま動き続け、次の起動から新しいURLが使われる
func (s *Source) UpdateURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.url == url {
		return
	}
	s.url = url
	s.logger.Info().Str("url", redactURL(url)).Msg("接続URLを更新しました")
}

// LatestFrame は最新のフレームを返す
func (s *Source) LatestFrame() (*Frame, bool) {
	return s.buffer.Latest()
}

// Subscribers は現在の購読者数を返す
func (s *Source) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribers
}

// State は現在のキャプチャループの状態を返す
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loop == nil {
		return StateIdle
	}
	return s.loop.State()
}

// Starts はこれまでに起動したキャプチャループの数を返す
func (s *Source) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Status は状態のスナップショットを返す
func (s *Source) Status() SourceStatus {
	s.mu.Lock()
	status := SourceStatus{
		ID:          s.id,
		URL:         redactURL(s.url),
		State:       StateIdle,
		Subscribers: s.subscribers,
	}
	loop := s.loop
	s.mu.Unlock()

	if loop != nil {
		status.State = loop.State()
		status.Stats = loop.Stats()
	}
	status.Buffered = s.buffer.Len()
	return status
}

// Close はソースを削除済みにし、キャプチャループに停止を要求する
// 接続中の視聴者は Done を通じて切り離される
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)

	if s.loop != nil {
		s.loop.requestStop()
	}
	s.logger.Info().Msg("カメラソースを削除しました")
}

// Wait は現在のキャプチャループの終了を待つ
func (s *Source) Wait(ctx context.Context) error {
	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()

	if loop == nil {
		return nil
	}
	return loop.Wait(ctx)
}

// ensureRunningLocked はループが動作していることを保証する（ロック済み前提）
//
// 停止要求がまだ観測されていなければ取り消して同じループを使い続ける。
// 既に終了処理に入っている場合は、そのループの終了後に接続する新しいループを起動する。
// いずれの場合も上流への接続は同時に1本までになる。
func (s *Source) ensureRunningLocked() {
	if s.loop != nil && s.loop.resume() {
		return
	}

	var after <-chan struct{}
	if s.loop != nil {
		after = s.loop.Done()
	}

	// 前回の起動時の古いフレームは配信しない
	s.buffer.Reset()

	s.loop = newCaptureLoop(s.url, s.opener, s.buffer, &s.seq, s.cfg, s.logger, after)
	s.starts++
	s.loop.start()
}
