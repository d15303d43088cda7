// Package app は設定から各部品を組み立ててサーバーを起動する
package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"camctl/internal/config"
	"camctl/internal/device"
	"camctl/internal/preview"
	"camctl/internal/server"
	"camctl/internal/v4l2"
)

const shutdownTimeout = 5 * time.Second

// NewBackend は設定に応じたカメラバックエンドを作成する
func NewBackend(cfg *config.Config, logger *zap.SugaredLogger) (device.Backend, error) {
	switch cfg.Camera.Backend {
	case config.BackendSimulated:
		return device.NewSimulatedBackend(cfg.Camera.FrameInterval), nil
	case config.BackendV4L2:
		return v4l2.NewBackend(cfg.Camera.Devices, v4l2.NewDiscovery(), logger.Named("v4l2")), nil
	default:
		return nil, errors.Errorf("未対応のカメラバックエンド: %q", cfg.Camera.Backend)
	}
}

// Run はコントローラーとHTTPサーバーを起動し、終了するまでブロックする
func Run(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (err error) {
	backend, err := NewBackend(cfg, logger)
	if err != nil {
		return err
	}

	rotation, err := preview.RotationFromDegrees(cfg.Display.Rotation)
	if err != nil {
		return err
	}

	manager := device.NewManager(backend, logger.Named("device"))
	surface := preview.NewMemorySurface()
	display := preview.NewStaticDisplay(rotation, cfg.Display.Width)
	pictures := server.NewPictureStore()

	ctrl := preview.NewController(manager, surface, display, preview.Config{
		AutoFocus:     cfg.Camera.AutoFocus,
		FocusInterval: cfg.Camera.FocusInterval,
		Logger:        logger.Named("preview"),
		OnPicture:     pictures.Store,
	})
	if err := ctrl.Start(ctx); err != nil {
		return errors.Wrap(err, "コントローラーの起動に失敗")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = multierr.Append(err, ctrl.Shutdown(shutdownCtx))
	}()

	if cfg.Camera.DefaultFacing != "" {
		facing, perr := device.ParseFacing(cfg.Camera.DefaultFacing)
		if perr != nil {
			return perr
		}
		// 起動時のカメラ失敗はサーバーを止めない
		if serr := ctrl.StartCamera(ctx, facing); serr != nil {
			logger.Warnw("起動時のカメラ開始に失敗しました", "facing", facing, "error", serr)
		}
	}

	srv := server.New(cfg, server.Components{
		Controller: ctrl,
		Devices:    manager,
		Surface:    surface,
		Display:    display,
		Pictures:   pictures,
	}, logger.Named("server"))

	return srv.Start(ctx)
}
