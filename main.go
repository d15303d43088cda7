package main

import (
	"context"
	"log"

	"camctl/internal/app"
	"camctl/internal/config"
	"camctl/internal/logging"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	// サーバーを起動
	if err := app.Run(context.Background(), cfg, logger); err != nil {
		logger.Fatalw("サーバーの起動に失敗しました", "error", err)
	}
}
