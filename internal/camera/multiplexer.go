package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// StreamConfig は視聴者向け配信の設定
type StreamConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`     // 新しいフレームがないときの待ち時間
	Quality          int           `yaml:"jpeg_quality"`      // JPEG品質
	Boundary         string        `yaml:"boundary"`          // multipart境界文字列
	SnapshotAttempts int           `yaml:"snapshot_attempts"` // スナップショットの最大試行回数
	SnapshotInterval time.Duration `yaml:"snapshot_interval"` // スナップショットの試行間隔
}

// DefaultStreamConfig はデフォルトの配信設定を返す
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PollInterval:     20 * time.Millisecond,
		Quality:          70,
		Boundary:         "frame",
		SnapshotAttempts: 20,
		SnapshotInterval: 50 * time.Millisecond,
	}
}

// Multiplexer は1人の視聴者ごとに最新フレームをポーリングし、
// multipart/x-mixed-replace のパートとして書き出す
type Multiplexer struct {
	config StreamConfig
	logger zerolog.Logger
}

// NewMultiplexer は新しいMultiplexerを作成する
func NewMultiplexer(config StreamConfig, logger zerolog.Logger) *Multiplexer {
	return &Multiplexer{
		config: config,
		logger: logger,
	}
}

// ContentType はストリームレスポンスの Content-Type を返す
func (m *Multiplexer) ContentType() string {
	return "multipart/x-mixed-replace; boundary=" + m.config.Boundary
}

// Stream は ctx がキャンセルされるまでフレームを w に書き出し続ける
//
// 開始時に購読し、どの経路で終了しても必ず1回だけ購読を解除する。
// 前回と同じフレームは再送しない。flush は各パートの書き込み後に呼ばれる。
func (m *Multiplexer) Stream(ctx context.Context, src *Source, w io.Writer, flush func()) error {
	if err := src.Subscribe(); err != nil {
		return err
	}
	defer src.Unsubscribe()

	logger := m.logger.With().Str("camera_id", src.ID()).Logger()
	logger.Info().Msg("ストリーム配信を開始しました")
	defer logger.Info().Msg("ストリーム配信を終了しました")

	var last *Frame
	for {
		frame, ok := src.LatestFrame()
		if !ok || frame == last {
			if err := m.wait(ctx, src, m.config.PollInterval); err != nil {
				return ignoreCanceled(err)
			}
			continue
		}
		last = frame

		data, err := frame.JPEG(m.config.Quality)
		if err != nil {
			logger.Warn().Err(err).Uint64("seq", frame.Seq).Msg("JPEGエンコードに失敗しました")
			continue
		}

		if err := WritePart(w, m.config.Boundary, data); err != nil {
			return fmt.Errorf("フレームの書き込みに失敗: %w", err)
		}
		if flush != nil {
			flush()
		}

		if err := ctx.Err(); err != nil {
			return ignoreCanceled(err)
		}
		select {
		case <-src.Done():
			return ErrSourceClosed
		default:
		}
	}
}

// Snapshot は最初のフレームを一定回数まで待ち、1枚のJPEGを返す
// 取得後はすぐに購読を解除する
func (m *Multiplexer) Snapshot(ctx context.Context, src *Source) ([]byte, error) {
	if err := src.Subscribe(); err != nil {
		return nil, err
	}
	defer src.Unsubscribe()

	attempts := m.config.SnapshotAttempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if frame, ok := src.LatestFrame(); ok {
			return frame.JPEG(m.config.Quality)
		}
		if err := m.wait(ctx, src, m.config.SnapshotInterval); err != nil {
			return nil, err
		}
	}

	if frame, ok := src.LatestFrame(); ok {
		return frame.JPEG(m.config.Quality)
	}
	return nil, ErrNoFrame
}

// wait は d だけ待つ。視聴者の切断やソースの削除があればエラーを返す
func (m *Multiplexer) wait(ctx context.Context, src *Source, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-src.Done():
		return ErrSourceClosed
	}
}

// WritePart はJPEGを multipart の1パートとして書き出す
func WritePart(w io.Writer, boundary string, jpeg []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpeg))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
