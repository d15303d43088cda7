package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"camctl/internal/device"
)

const (
	BackendSimulated = "simulated" // メモリ上のシミュレーター
	BackendV4L2      = "v4l2"      // Linux V4L2デバイス
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Camera  CameraConfig  `yaml:"camera"`
	Display DisplayConfig `yaml:"display"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig はHTTPブリッジの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Backend       string        `yaml:"backend"`        // simulated または v4l2
	DefaultFacing string        `yaml:"default_facing"` // 起動時に開く向き（空なら開かない）
	AutoFocus     bool          `yaml:"auto_focus"`     // オートフォーカスループ
	FocusInterval time.Duration `yaml:"focus_interval"` // フォーカス試行の間隔
	FrameInterval time.Duration `yaml:"frame_interval"` // シミュレーターのフレーム間隔

	// v4l2 バックエンドで使うデバイス
	Devices []CameraDevice `yaml:"devices"`
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	ID          string `yaml:"id"`          // カメラID
	Name        string `yaml:"name"`        // カメラ名
	Device      string `yaml:"device"`      // デバイスパス (例: /dev/video0)
	Facing      string `yaml:"facing"`      // front / back
	Orientation int    `yaml:"orientation"` // センサーの取り付け角度
	FPS         int    `yaml:"fps"`
}

// DisplayConfig は画面の設定
type DisplayConfig struct {
	Rotation int `yaml:"rotation"` // 0 / 90 / 180 / 270
	Width    int `yaml:"width"`    // 画面の幅
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Camera: CameraConfig{
			Backend:       BackendSimulated,
			AutoFocus:     true,
			FocusInterval: time.Second,
			FrameInterval: 100 * time.Millisecond,
			Devices:       []CameraDevice{},
		},
		Display: DisplayConfig{
			Rotation: 0,
			Width:    1080,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load は設定を読み込む
// CAMCTL_CONFIG にYAMLファイルのパスがあればそれを読み、環境変数で上書きする
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CAMCTL_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("SERVER_PORT", getEnvAsIntOrDefault("PORT", cfg.Server.Port))
	cfg.Camera.Backend = getEnvOrDefault("CAMERA_BACKEND", cfg.Camera.Backend)
	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "設定の検証に失敗")
	}

	return cfg, nil
}

// loadFile はYAMLファイルの内容をデフォルト値の上に重ねる
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "設定ファイル %s の読み込みに失敗", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "設定ファイル %s の解析に失敗", path)
	}
	return nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if err := c.Camera.validate(); err != nil {
		return err
	}

	switch c.Display.Rotation {
	case 0, 90, 180, 270:
	default:
		return errors.Errorf("無効な画面回転: %d", c.Display.Rotation)
	}
	if c.Display.Width <= 0 {
		return errors.Errorf("無効な画面幅: %d", c.Display.Width)
	}

	return nil
}

func (c *CameraConfig) validate() error {
	if c.FocusInterval <= 0 {
		return errors.Errorf("無効なフォーカス間隔: %s", c.FocusInterval)
	}
	if c.DefaultFacing != "" {
		if _, err := device.ParseFacing(c.DefaultFacing); err != nil {
			return err
		}
	}

	switch c.Backend {
	case BackendSimulated:
		return nil
	case BackendV4L2:
	default:
		return errors.Errorf("未対応のカメラバックエンド: %q", c.Backend)
	}

	if len(c.Devices) == 0 {
		return errors.New("カメラデバイスが設定されていません")
	}
	for i, dev := range c.Devices {
		if dev.ID == "" {
			return errors.Errorf("カメラ %d のIDが空です", i)
		}
		if dev.Device == "" {
			return errors.Errorf("カメラ %s のデバイスパスが空です", dev.ID)
		}
		if _, err := device.ParseFacing(dev.Facing); err != nil {
			return errors.Wrapf(err, "カメラ %s", dev.ID)
		}
		if dev.Orientation < 0 || dev.Orientation >= 360 || dev.Orientation%90 != 0 {
			return errors.Errorf("カメラ %s の取り付け角度が無効: %d", dev.ID, dev.Orientation)
		}
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
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
