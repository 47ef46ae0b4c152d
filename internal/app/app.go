// Package app は設定から各コンポーネントを組み立ててサーバーを起動する
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"drowsewatch/internal/alert"
	"drowsewatch/internal/camera"
	"drowsewatch/internal/config"
	"drowsewatch/internal/history"
	"drowsewatch/internal/metrics"
	"drowsewatch/internal/sampling"
	"drowsewatch/internal/scoring"
	"drowsewatch/internal/server"
	"drowsewatch/internal/session"
)

const redisConnectTimeout = 3 * time.Second

// SetupLogger はグローバルロガーを設定する
func SetupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// Components は起動時に組み立てたコンポーネント
type Components struct {
	Camera     *camera.Manager
	Controller *session.Controller
	History    history.Store
	Metrics    *metrics.Metrics
	Server     *server.Server
}

// Build は設定からコンポーネントを組み立てる
func Build(ctx context.Context, cfg *config.Config, discovery camera.Discovery, source camera.Source) (*Components, error) {
	m := metrics.New()

	manager := camera.NewManager(discovery, source, cfg.Camera.Device, camera.Settings{
		FPS:    cfg.Camera.FPS,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
	})

	store := newHistoryStore(ctx, cfg.History)

	ctrl, err := session.NewController(session.Options{
		Camera:      manager,
		Surface:     manager.Surface(),
		Scorer:      scoring.NewClient(cfg.Scoring.BaseURL, cfg.Scoring.Timeout),
		Encoder:     sampling.NewEncoder(cfg.Sampling.JPEGQuality),
		Player:      newPlayer(cfg.Alert),
		History:     store,
		Metrics:     m,
		Period:      cfg.Sampling.Interval,
		MaxInFlight: cfg.Scoring.MaxInFlight,
		Thresholds: scoring.Thresholds{
			EAR:  cfg.Thresholds.EAR,
			MAR:  cfg.Thresholds.MAR,
			Tilt: cfg.Thresholds.Tilt,
		},
		SoundEnabled: cfg.Alert.SoundEnabled,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("セッションコントローラーの作成に失敗: %w", err)
	}

	srv, err := server.New(cfg, ctrl, manager.Surface(), m)
	if err != nil {
		_ = ctrl.Close()
		_ = store.Close()
		return nil, fmt.Errorf("サーバーの作成に失敗: %w", err)
	}

	return &Components{
		Camera:     manager,
		Controller: ctrl,
		History:    store,
		Metrics:    m,
		Server:     srv,
	}, nil
}

// Run はLinuxのカメラとffmpegで組み立て、終了までサーバーを動かす
func Run(ctx context.Context, cfg *config.Config) error {
	discovery := camera.NewLinuxDiscovery()
	logDevices(ctx, discovery)

	components, err := Build(ctx, cfg, discovery, camera.NewFFmpegSource())
	if err != nil {
		return err
	}
	return serve(ctx, cfg, components)
}

// serve はサーバーが終了するまで動かす
// どの経路で終了してもセッションを閉じ、カメラを解放する
func serve(ctx context.Context, cfg *config.Config, components *Components) error {
	defer func() {
		if err := components.Controller.Close(); err != nil {
			log.Warn().Err(err).Msg("セッションの終了に失敗しました")
		}
		if err := components.History.Close(); err != nil {
			log.Warn().Err(err).Msg("警告履歴ストアのクローズに失敗しました")
		}
	}()

	healthCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go components.Controller.RunHealthChecks(healthCtx, cfg.Scoring.HealthInterval)

	log.Info().
		Str("addr", cfg.ServerAddress()).
		Str("backend", cfg.Scoring.BaseURL).
		Dur("interval", cfg.Sampling.Interval).
		Msg("drowsewatch を起動します")

	return components.Server.Start(ctx)
}

// newHistoryStore はRedisが設定されていればRedisを、なければメモリを使う
// Redisに接続できない場合はメモリへフォールバックする
func newHistoryStore(ctx context.Context, cfg config.HistoryConfig) history.Store {
	if cfg.RedisAddr == "" {
		return history.NewMemoryStore(cfg.Capacity)
	}

	connectCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()

	store, err := history.NewRedisStore(connectCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Retention)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redisを使用できないためメモリに警告履歴を保存します")
		return history.NewMemoryStore(cfg.Capacity)
	}

	log.Info().Str("addr", cfg.RedisAddr).Msg("警告履歴をRedisに保存します")
	return store
}

func newPlayer(cfg config.AlertConfig) alert.Player {
	if cfg.SoundFile == "" || len(cfg.Player) == 0 {
		return alert.NopPlayer{}
	}
	if _, err := os.Stat(cfg.SoundFile); err != nil {
		log.Warn().Err(err).Str("file", cfg.SoundFile).Msg("警告音ファイルが見つかりません")
	}
	return alert.NewCommandPlayer(cfg.Player, cfg.SoundFile)
}

func logDevices(ctx context.Context, discovery camera.Discovery) {
	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("カメラデバイスの検出に失敗しました")
		return
	}
	if len(devices) == 0 {
		log.Warn().Msg("利用可能なカメラデバイスが見つかりません")
		return
	}

	for _, device := range devices {
		info, err := discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			log.Info().Str("device", device).Msg("カメラデバイスを検出しました")
			continue
		}
		log.Info().Str("device", device).Str("name", info.Name).Str("driver", info.Driver).Msg("カメラデバイスを検出しました")
	}
}
