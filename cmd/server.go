// Package main はstreamrelayサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"streamrelay/internal/app"
	"streamrelay/internal/config"
	"streamrelay/internal/logging"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイル (YAML)")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 5000)")
		dbPath     = flag.String("db", "", "カメラ登録情報のデータベース (デフォルト: rtsp_streams.db)")
		backend    = flag.String("backend", "", "RTSPのデコードバックエンド opencv|ffmpeg (デフォルト: opencv)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("streamrelay")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	if *configPath == "" {
		*configPath = os.Getenv("STREAMRELAY_CONFIG")
	}
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *backend != "" {
		cfg.Capture.Backend = *backend
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	logger, err := logging.New(cfg.Log, nil)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}

	if err := app.Run(context.Background(), cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("サーバーの起動に失敗しました")
	}
}
