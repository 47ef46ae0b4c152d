package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"drowsewatch/internal/app"
	"drowsewatch/internal/config"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	app.SetupLogger(cfg.Log)

	// サーバーを起動
	if err := app.Run(context.Background(), cfg); err != nil {
		log.Fatal().Err(err).Msg("サーバーの起動に失敗しました")
	}
}
