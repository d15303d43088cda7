// Package main はcamctlサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"camctl/internal/app"
	"camctl/internal/config"
	"camctl/internal/logging"
)

func main() {
	// コマンドラインオプション
	var (
		host    = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port    = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		backend = flag.String("backend", "", "カメラバックエンド simulated|v4l2 (デフォルト: simulated)")
		facing  = flag.String("facing", "", "起動時に開くカメラの向き front|back")
		debug   = flag.Bool("debug", false, "デバッグログを出力")
		help    = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("camctl")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load()
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
	if *backend != "" {
		cfg.Camera.Backend = *backend
	}
	if *facing != "" {
		cfg.Camera.DefaultFacing = *facing
	}
	if *debug {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	// サーバーを起動
	logger.Infow("camctl サーバーを起動します", "address", cfg.ServerAddress(), "backend", cfg.Camera.Backend)
	if err := app.Run(context.Background(), cfg, logger); err != nil {
		logger.Fatalw("サーバーの起動に失敗しました", "error", err)
	}
}
