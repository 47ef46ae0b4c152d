package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Camera     CameraConfig     `yaml:"camera"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Sampling   SamplingConfig   `yaml:"sampling"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Alert      AlertConfig      `yaml:"alert"`
	History    HistoryConfig    `yaml:"history"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig はローカル操作用HTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Device string `yaml:"device"` // デバイスパス (空なら自動検出)
	FPS    int    `yaml:"fps"`    // 目標フレームレート
	Width  int    `yaml:"width"`  // 目標画像幅
	Height int    `yaml:"height"` // 目標画像高さ
}

// ScoringConfig はリモート判定サービスの設定
type ScoringConfig struct {
	BaseURL        string        `yaml:"base_url"`        // 判定サービスのベースURL
	Timeout        time.Duration `yaml:"timeout"`         // 1サンプルあたりのタイムアウト
	HealthInterval time.Duration `yaml:"health_interval"` // ヘルスチェック間隔
	MaxInFlight    int           `yaml:"max_in_flight"`   // 同時に送信中にできるサンプル数 (0は上限なし)
}

// SamplingConfig はサンプリングループの設定
type SamplingConfig struct {
	Interval    time.Duration `yaml:"interval"`     // サンプリング周期
	JPEGQuality int           `yaml:"jpeg_quality"` // JPEG品質 (1-100)
}

// ThresholdsConfig は起動時の判定しきい値
type ThresholdsConfig struct {
	EAR  float64 `yaml:"ear"`
	MAR  float64 `yaml:"mar"`
	Tilt float64 `yaml:"tilt"`
}

// AlertConfig は警告音の設定
type AlertConfig struct {
	SoundEnabled bool     `yaml:"sound_enabled"`
	SoundFile    string   `yaml:"sound_file"`
	Player       []string `yaml:"player"` // 再生コマンド (末尾にサウンドファイルを付与)
}

// HistoryConfig は警告履歴の保存先設定
type HistoryConfig struct {
	Capacity      int           `yaml:"capacity"`       // メモリ保持件数
	RedisAddr     string        `yaml:"redis_addr"`     // 空ならメモリのみ
	RedisPassword string        `yaml:"redis_password"` //nolint:gosec
	RedisDB       int           `yaml:"redis_db"`
	Retention     time.Duration `yaml:"retention"` // Redis上の保持期間
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"` // 人間向けのコンソール出力
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			Device: "",
			FPS:    20,
			Width:  640,
			Height: 480,
		},
		Scoring: ScoringConfig{
			BaseURL:        "http://localhost:5000",
			Timeout:        2 * time.Second,
			HealthInterval: 5 * time.Second,
			MaxInFlight:    0,
		},
		Sampling: SamplingConfig{
			Interval:    150 * time.Millisecond,
			JPEGQuality: 80,
		},
		Thresholds: ThresholdsConfig{
			EAR:  0.25,
			MAR:  0.6,
			Tilt: 20,
		},
		Alert: AlertConfig{
			SoundEnabled: true,
			SoundFile:    "assets/alert.wav",
			Player:       []string{"aplay", "-q"},
		},
		History: HistoryConfig{
			Capacity:  200,
			Retention: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load は設定を読み込む
// .env → 設定ファイル(YAML) → 環境変数 の順に上書きする
func Load() (*Config, error) {
	// .envファイルは存在しなくてもよい
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".envファイルが見つからないため環境変数のみを使用します")
	}

	cfg := Default()

	if path := os.Getenv("DROWSEWATCH_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// LoadFile はYAMLファイルの内容で設定を上書きする
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗: %w", err)
	}

	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)

	c.Camera.Device = getEnvOrDefault("CAMERA_DEVICE", c.Camera.Device)
	c.Camera.FPS = getEnvAsIntOrDefault("CAMERA_FPS", c.Camera.FPS)

	c.Scoring.BaseURL = getEnvOrDefault("SCORING_URL", c.Scoring.BaseURL)
	c.Scoring.Timeout = getEnvAsDurationOrDefault("SCORING_TIMEOUT", c.Scoring.Timeout)
	c.Scoring.MaxInFlight = getEnvAsIntOrDefault("SCORING_MAX_IN_FLIGHT", c.Scoring.MaxInFlight)

	c.Sampling.Interval = getEnvAsDurationOrDefault("SAMPLE_INTERVAL", c.Sampling.Interval)

	c.Alert.SoundFile = getEnvOrDefault("ALERT_SOUND_FILE", c.Alert.SoundFile)
	if v := os.Getenv("ALERT_SOUND_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Alert.SoundEnabled = b
		}
	}

	c.History.RedisAddr = getEnvOrDefault("REDIS_ADDR", c.History.RedisAddr)
	c.History.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", c.History.RedisPassword)

	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if c.Camera.FPS <= 0 || c.Camera.FPS > 60 {
		return fmt.Errorf("無効なFPS値: %d", c.Camera.FPS)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("無効な解像度: %dx%d", c.Camera.Width, c.Camera.Height)
	}

	if c.Scoring.BaseURL == "" {
		return fmt.Errorf("判定サービスのURLが設定されていません")
	}
	if c.Scoring.Timeout <= 0 {
		return fmt.Errorf("無効なタイムアウト: %s", c.Scoring.Timeout)
	}
	if c.Scoring.MaxInFlight < 0 {
		return fmt.Errorf("無効な同時送信数: %d", c.Scoring.MaxInFlight)
	}

	if c.Sampling.Interval <= 0 {
		return fmt.Errorf("無効なサンプリング周期: %s", c.Sampling.Interval)
	}
	if c.Sampling.JPEGQuality < 1 || c.Sampling.JPEGQuality > 100 {
		return fmt.Errorf("無効なJPEG品質: %d", c.Sampling.JPEGQuality)
	}

	if c.History.Capacity <= 0 {
		return fmt.Errorf("無効な履歴保持件数: %d", c.History.Capacity)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault は環境変数を time.Duration として取得する
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
