// Package opencv は OpenCV (gocv) の FFmpeg バックエンドで RTSP ストリームをデコードする
//
// # 前提要件
//   - OpenCV 4.x とそのFFmpegバックエンド
//     Ubuntu/Debian: sudo apt install libopencv-dev
package opencv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"streamrelay/internal/camera"
)

// captureOptionsEnv は OpenCV の FFmpeg バックエンドに渡すオプションの環境変数
const captureOptionsEnv = "OPENCV_FFMPEG_CAPTURE_OPTIONS"

var errFrameDropped = errors.New("フレームを読み取れませんでした")

// Opener は gocv.VideoCapture で上流を開く
type Opener struct {
	logger zerolog.Logger
	once   sync.Once
}

// NewOpener は新しいOpenerを作成する
func NewOpener(logger zerolog.Logger) *Opener {
	return &Opener{logger: logger}
}

// Open はURLを FFmpeg バックエンドで開く
//
// OpenCV はURLごとのオプションを受け付けないため、トランスポートと受信バッファは
// 最初の Open 時に環境変数としてプロセス全体へ設定される。
// 環境変数に既に値がある場合はその値を優先し、足りないキーだけを追加する。
func (o *Opener) Open(_ context.Context, rawURL string, opts camera.OpenOptions) (camera.Decoder, error) {
	o.once.Do(func() {
		preset := os.Getenv(captureOptionsEnv)
		merged, conflicts := opts.MergeCaptureOptions(preset)
		if len(conflicts) > 0 {
			o.logger.Warn().
				Str("env", captureOptionsEnv).
				Strs("keys", conflicts).
				Msg("環境変数の値が設定より優先されます")
		}
		if merged != preset {
			_ = os.Setenv(captureOptionsEnv, merged)
		}
		o.logger.Debug().Str(captureOptionsEnv, merged).Msg("キャプチャオプションを設定しました")
	})

	capture, err := gocv.OpenVideoCaptureWithAPI(rawURL, gocv.VideoCaptureFFmpeg)
	if err != nil {
		return nil, fmt.Errorf("VideoCaptureの作成に失敗: %w", err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, fmt.Errorf("ストリームを開けませんでした")
	}

	return &decoder{
		capture: capture,
		mat:     gocv.NewMat(),
	}, nil
}

// decoder は1本の VideoCapture を包む
type decoder struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// Read は1フレームを読み取り、Goの画像に変換する
func (d *decoder) Read() (image.Image, error) {
	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, errFrameDropped
	}
	return d.mat.ToImage()
}

// Close は VideoCapture を解放する
func (d *decoder) Close() error {
	_ = d.mat.Close()
	return d.capture.Close()
}
