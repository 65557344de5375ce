// Package logging はアプリケーション全体で使う zerolog のロガーを組み立てる
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"streamrelay/internal/config"
)

// New は設定からロガーを作成する。w が nil の場合は標準エラー出力に書き出す
func New(cfg config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("無効なログレベル: %q", cfg.Level)
		}
		level = parsed
	}

	switch strings.ToLower(cfg.Format) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("無効なログ形式: %q", cfg.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "streamrelay").Logger(), nil
}
