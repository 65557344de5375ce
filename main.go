package main

import (
	"context"
	"log"

	"streamrelay/internal/app"
	"streamrelay/internal/config"
	"streamrelay/internal/logging"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// ロガーを作成
	logger, err := logging.New(cfg.Log, nil)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}

	// サーバーを起動
	if err := app.Run(context.Background(), cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("サーバーの起動に失敗しました")
	}
}
