package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camctl/internal/config"
	"camctl/internal/device"
	"camctl/internal/preview"
)

// Components はサーバーが操作する部品
type Components struct {
	Controller *preview.Controller
	Devices    *device.Manager
	Surface    *preview.MemorySurface
	Display    *preview.StaticDisplay
	Pictures   *PictureStore
}

// Server はHTTPブリッジを管理する構造体
type Server struct {
	config     *config.Config
	logger     *zap.SugaredLogger
	engine     *gin.Engine
	httpServer *http.Server

	controller *preview.Controller
	devices    *device.Manager
	surface    *preview.MemorySurface
	display    *preview.StaticDisplay
	pictures   *PictureStore
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, components Components, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if components.Pictures == nil {
		components.Pictures = NewPictureStore()
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		config:     cfg,
		logger:     logger,
		engine:     engine,
		controller: components.Controller,
		devices:    components.Devices,
		surface:    components.Surface,
		display:    components.Display,
		pictures:   components.Pictures,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/cameras", s.handleCameras)

	// カメラ操作
	cam := api.Group("/camera")
	cam.POST("/start", s.handleStart)
	cam.POST("/stop", s.handleStop)
	cam.PUT("/facing", s.handleFacing)
	cam.PUT("/flash", s.handleFlash)
	cam.PUT("/autofocus", s.handleAutoFocus)
	cam.POST("/capture", s.handleCapture)
	cam.GET("/frame", s.handleFrame)
	cam.GET("/stream", s.handleStream)
	cam.GET("/picture", s.handlePicture)

	// サーフェスのライフサイクル通知
	api.POST("/surface", s.handleSurfaceCreated)
	api.PUT("/surface", s.handleSurfaceChanged)
	api.DELETE("/surface", s.handleSurfaceDestroyed)

	api.PUT("/display/rotation", s.handleRotation)
}

// requestLogger はリクエストごとにアクセスログを出力するミドルウェア
func requestLogger(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debugw("HTTPリクエスト",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// Start はサーバーを起動し、コンテキストのキャンセルかシグナルを受けるまで待つ
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Infow("HTTPサーバーを起動しています", "address", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdownCh <- errors.Wrap(err, "サーバーの起動に失敗")
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Infow("シグナルを受信しました", "signal", sig.String())
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています...")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "サーバーのシャットダウンに失敗")
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}
