package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	t.Setenv("CAMCTL_CONFIG", "")
	t.Setenv("SERVER_HOST", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("PORT", "")
	t.Setenv("CAMERA_BACKEND", "")

	cfg, err := Load()
	require.NoError(t, err, "設定の読み込みに失敗しました")
	require.NotNil(t, cfg)

	// サーバー設定の検証
	assert.NotEmpty(t, cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Positive(t, cfg.Server.ReadTimeout)

	// カメラ設定の検証
	assert.Equal(t, BackendSimulated, cfg.Camera.Backend)
	assert.True(t, cfg.Camera.AutoFocus)
	assert.Equal(t, time.Second, cfg.Camera.FocusInterval)

	// 画面設定の検証
	assert.Equal(t, 0, cfg.Display.Rotation)
	assert.Positive(t, cfg.Display.Width)
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	v4l2Device := CameraDevice{ID: "camera1", Name: "メインカメラ", Device: "/dev/video0", Facing: "back", Orientation: 90}

	testCases := []struct {
		name      string
		modify    func(cfg *Config)
		expectErr bool
	}{
		{
			name:   "正常な設定",
			modify: func(cfg *Config) {},
		},
		{
			name: "正常なv4l2設定",
			modify: func(cfg *Config) {
				cfg.Camera.Backend = BackendV4L2
				cfg.Camera.Devices = []CameraDevice{v4l2Device}
			},
		},
		{
			name:      "無効なポート番号",
			modify:    func(cfg *Config) { cfg.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "未対応のバックエンド",
			modify:    func(cfg *Config) { cfg.Camera.Backend = "android" },
			expectErr: true,
		},
		{
			name:      "v4l2でカメラデバイスなし",
			modify:    func(cfg *Config) { cfg.Camera.Backend = BackendV4L2 },
			expectErr: true,
		},
		{
			name: "カメラIDなし",
			modify: func(cfg *Config) {
				dev := v4l2Device
				dev.ID = ""
				cfg.Camera.Backend = BackendV4L2
				cfg.Camera.Devices = []CameraDevice{dev}
			},
			expectErr: true,
		},
		{
			name: "カメラデバイスパスなし",
			modify: func(cfg *Config) {
				dev := v4l2Device
				dev.Device = ""
				cfg.Camera.Backend = BackendV4L2
				cfg.Camera.Devices = []CameraDevice{dev}
			},
			expectErr: true,
		},
		{
			name: "無効な向き",
			modify: func(cfg *Config) {
				dev := v4l2Device
				dev.Facing = "side"
				cfg.Camera.Backend = BackendV4L2
				cfg.Camera.Devices = []CameraDevice{dev}
			},
			expectErr: true,
		},
		{
			name: "無効な取り付け角度",
			modify: func(cfg *Config) {
				dev := v4l2Device
				dev.Orientation = 45
				cfg.Camera.Backend = BackendV4L2
				cfg.Camera.Devices = []CameraDevice{dev}
			},
			expectErr: true,
		},
		{
			name:      "無効なデフォルトの向き",
			modify:    func(cfg *Config) { cfg.Camera.DefaultFacing = "up" },
			expectErr: true,
		},
		{
			name:      "無効なフォーカス間隔",
			modify:    func(cfg *Config) { cfg.Camera.FocusInterval = 0 },
			expectErr: true,
		},
		{
			name:      "無効な画面回転",
			modify:    func(cfg *Config) { cfg.Display.Rotation = 45 },
			expectErr: true,
		},
		{
			name:      "無効な画面幅",
			modify:    func(cfg *Config) { cfg.Display.Width = 0 },
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.expectErr {
				assert.Error(t, err, "エラーが期待されましたが、エラーが発生しませんでした")
			} else {
				assert.NoError(t, err, "予期しないエラーが発生しました")
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	assert.Equal(t, "192.168.1.100:9090", cfg.ServerAddress())
}

// TestEnvironmentVariables は環境変数の処理をテストする
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("CAMCTL_CONFIG", "")
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test.example.com", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

// TestLoadFile はYAMLファイルからの読み込みをテストする
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camctl.yaml")
	content := `
server:
  port: 9100
camera:
  backend: v4l2
  default_facing: back
  focus_interval: 2s
  devices:
    - id: rear
      name: 背面カメラ
      device: /dev/video0
      facing: back
      orientation: 90
    - id: selfie
      device: /dev/video2
      facing: front
      orientation: 270
display:
  rotation: 90
  width: 720
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("CAMCTL_CONFIG", path)
	t.Setenv("SERVER_HOST", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("PORT", "")
	t.Setenv("CAMERA_BACKEND", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "ファイルにない項目はデフォルト値")
	assert.Equal(t, BackendV4L2, cfg.Camera.Backend)
	assert.Equal(t, "back", cfg.Camera.DefaultFacing)
	assert.Equal(t, 2*time.Second, cfg.Camera.FocusInterval)
	assert.True(t, cfg.Camera.AutoFocus)
	require.Len(t, cfg.Camera.Devices, 2)
	assert.Equal(t, "selfie", cfg.Camera.Devices[1].ID)
	assert.Equal(t, 270, cfg.Camera.Devices[1].Orientation)
	assert.Equal(t, 90, cfg.Display.Rotation)
	assert.Equal(t, 720, cfg.Display.Width)
}

// TestLoadFileErrors は読み込めない設定ファイルをテストする
func TestLoadFileErrors(t *testing.T) {
	t.Setenv("CAMCTL_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("server: [\n"), 0o644))
	t.Setenv("CAMCTL_CONFIG", broken)
	_, err = Load()
	assert.Error(t, err)
}
