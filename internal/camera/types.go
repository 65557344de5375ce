package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"time"
)

// State はキャプチャループの動作状態を表す
type State string

const (
	StateIdle       State = "idle"       // まだ一度も起動していない
	StateConnecting State = "connecting" // 上流へ接続中
	StateRunning    State = "running"    // フレームをデコード中
	StateStopping   State = "stopping"   // 停止要求を受けた
	StateStopped    State = "stopped"    // 停止済み
)

// Active は状態が接続中または動作中かを返す
func (s State) Active() bool {
	return s == StateConnecting || s == StateRunning
}

var (
	// ErrNoFrame は待機時間内にフレームが得られなかったことを表す
	ErrNoFrame = errors.New("フレームがまだ取得されていません")
	// ErrStreamClosed は上流がストリームを終了したことを表す
	// Decoder.Read がこのエラーを返すとループは再接続方針に従って接続し直す
	ErrStreamClosed = errors.New("上流のストリームが終了しました")
	// ErrSourceClosed はレジストリから削除されたソースへの操作を表す
	ErrSourceClosed = errors.New("カメラソースは削除されています")
)

// Frame はデコード済みの1フレーム
//
// Push された後は不変として扱う。JPEGエンコード結果は品質ごとに一度だけ計算され、
// 同じカメラを見ている全ての視聴者で共有される。
type Frame struct {
	Seq        uint64      // ソース内での通し番号（1始まり）
	CapturedAt time.Time   // デコード完了時刻
	Image      image.Image // デコード済み画像

	once    sync.Once
	quality int
	encoded []byte
	err     error
}

// NewFrame は新しいFrameを作成する
func NewFrame(seq uint64, img image.Image, capturedAt time.Time) *Frame {
	return &Frame{Seq: seq, Image: img, CapturedAt: capturedAt}
}

// JPEG はフレームを指定品質のJPEGにエンコードする
// 最初に要求された品質の結果をキャッシュする
func (f *Frame) JPEG(quality int) ([]byte, error) {
	f.once.Do(func() {
		f.quality = quality
		f.encoded, f.err = encodeJPEG(f.Image, quality)
	})
	if f.quality != quality {
		return encodeJPEG(f.Image, quality)
	}
	return f.encoded, f.err
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, errors.New("画像が空です")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decoder は上流への1本の接続を表す
type Decoder interface {
	// Read は次のフレームをデコードして返す
	// エラーは一時的な読み取り失敗として扱われる
	Read() (image.Image, error)

	// Close は上流への接続を解放する
	Close() error
}

// OpenOptions は上流を開くときのトランスポート設定
type OpenOptions struct {
	Transport         string // "tcp" を強制する
	ReceiveBufferSize int    // 受信バッファサイズのヒント（バイト）
}

// DefaultOpenOptions はデフォルトのトランスポート設定を返す
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{
		Transport:         "tcp",
		ReceiveBufferSize: 1 << 20,
	}
}

// Opener は接続URLから Decoder を開く
type Opener interface {
	Open(ctx context.Context, url string, opts OpenOptions) (Decoder, error)
}

// OpenerFunc は関数を Opener として扱うためのアダプタ
type OpenerFunc func(ctx context.Context, url string, opts OpenOptions) (Decoder, error)

// Open は f を呼び出す
func (f OpenerFunc) Open(ctx context.Context, url string, opts OpenOptions) (Decoder, error) {
	return f(ctx, url, opts)
}

// LoopStats はキャプチャループの統計情報
type LoopStats struct {
	FramesDecoded uint64    `json:"frames_decoded"`
	ReadFailures  uint64    `json:"read_failures"`
	Reconnects    uint64    `json:"reconnects"`
	LastFrameAt   time.Time `json:"last_frame_at"`
	LastError     string    `json:"last_error,omitempty"`
	Degraded      bool      `json:"degraded"`
}

// SourceStatus はカメラソースの状態スナップショット
type SourceStatus struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	State       State     `json:"state"`
	Subscribers int       `json:"subscribers"`
	Buffered    int       `json:"buffered"`
	Stats       LoopStats `json:"stats"`
}
