// Package app はサーバープロセスの起動処理をまとめる
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"streamrelay/internal/camera/backend"
	"streamrelay/internal/config"
	"streamrelay/internal/server"
	"streamrelay/internal/store"
)

// Run はカメラ登録情報を開き、HTTPサーバーを起動する
// ctx のキャンセルかシグナルでシャットダウンし、全ての資源を解放してから戻る
func Run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	st, err := store.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("データベースのクローズに失敗しました")
		}
	}()

	cameras, err := st.List(ctx)
	if err != nil {
		return err
	}
	logger.Info().Str("path", cfg.Store.Path).Int("cameras", len(cameras)).Msg("カメラ登録情報を読み込みました")

	opener, err := backend.New(cfg.Capture, logger)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv, err := server.New(cfg, st, opener, logger)
	if err != nil {
		return fmt.Errorf("サーバーの作成に失敗: %w", err)
	}

	logger.Info().Str("addr", cfg.ServerAddress()).Msg("streamrelay サーバーを起動します")
	return srv.Start(ctx)
}
