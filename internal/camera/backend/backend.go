// Package backend は設定からURLスキームごとのデコードバックエンドを組み立てる
package backend

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"streamrelay/internal/camera"
	"streamrelay/internal/camera/ffmpeg"
	"streamrelay/internal/camera/httpmjpeg"
	"streamrelay/internal/camera/opencv"
	"streamrelay/internal/config"
)

// streamSchemes は RTSP 用バックエンドで開くスキーム
var streamSchemes = []string{"rtsp", "rtsps", "file"}

// New は設定に従って SchemeOpener を作成する
//
// rtsp/rtsps/file は設定されたバックエンド（opencv または ffmpeg）で、
// http/https は MJPEG デコーダで開く。
func New(cfg config.CaptureConfig, logger zerolog.Logger) (*camera.SchemeOpener, error) {
	var stream camera.Opener
	switch strings.ToLower(cfg.Backend) {
	case config.BackendOpenCV:
		stream = opencv.NewOpener(logger)
	case config.BackendFFmpeg:
		stream = ffmpeg.NewOpener(cfg.FFmpegPath, logger)
	default:
		return nil, fmt.Errorf("サポートされていないバックエンド: %q", cfg.Backend)
	}

	opener := camera.NewSchemeOpener()
	for _, scheme := range streamSchemes {
		opener.Register(scheme, stream)
	}

	mjpeg := httpmjpeg.NewOpener(nil)
	opener.Register("http", mjpeg)
	opener.Register("https", mjpeg)

	logger.Info().
		Str("backend", strings.ToLower(cfg.Backend)).
		Strs("schemes", opener.Schemes()).
		Msg("デコードバックエンドを設定しました")
	return opener, nil
}
