package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"camctl/internal/device"
	"camctl/internal/preview"
)

// streamPollInterval はMJPEG配信で新しいフレームを確認する間隔
const streamPollInterval = 50 * time.Millisecond

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string           `json:"status"`
	Server    ServerInfo       `json:"server"`
	Camera    preview.Snapshot `json:"camera"`
	Backend   string           `json:"backend"`
	Pictures  int              `json:"pictures"`
	Timestamp time.Time        `json:"timestamp"`
}

// ServerInfo はリッスン中のアドレス
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type facingRequest struct {
	Facing string `json:"facing"`
}

type flashRequest struct {
	On *bool `json:"on" binding:"required"`
}

type autoFocusRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type surfaceChangedRequest struct {
	Format int `json:"format"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type rotationRequest struct {
	Degrees *int `json:"degrees" binding:"required"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	snap, err := s.controller.Snapshot(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Camera:    snap,
		Backend:   s.config.Camera.Backend,
		Pictures:  s.pictures.Count(),
		Timestamp: time.Now(),
	})
}

// handleCameras はカメラ一覧取得エンドポイント
func (s *Server) handleCameras(c *gin.Context) {
	infos, err := s.devices.Devices(c.Request.Context())
	if err != nil {
		s.respondError(c, errors.Wrap(device.ErrDeviceUnavailable, err.Error()))
		return
	}

	cameras := make([]gin.H, 0, len(infos))
	for _, info := range infos {
		cameras = append(cameras, gin.H{
			"id":          info.ID,
			"name":        info.Name,
			"facing":      info.Facing,
			"orientation": info.Orientation,
		})
	}
	c.JSON(http.StatusOK, gin.H{"cameras": cameras})
}

// handleStart はカメラを開いてプレビューを開始する
// 向きの指定が無い場合は設定のデフォルト、それも無ければ背面
func (s *Server) handleStart(c *gin.Context) {
	var req facingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.respondBadRequest(c, err)
			return
		}
	}
	if req.Facing == "" {
		req.Facing = s.config.Camera.DefaultFacing
	}
	if req.Facing == "" {
		req.Facing = string(device.FacingBack)
	}

	facing, err := device.ParseFacing(req.Facing)
	if err != nil {
		s.respondBadRequest(c, err)
		return
	}

	if err := s.controller.StartCamera(c.Request.Context(), facing); err != nil {
		s.respondError(c, err)
		return
	}
	s.respondSnapshot(c)
}

// handleStop はプレビューを停止してカメラを解放する
func (s *Server) handleStop(c *gin.Context) {
	if err := s.controller.StopCamera(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	s.respondSnapshot(c)
}

// handleFacing はカメラの向きを切り替える
func (s *Server) handleFacing(c *gin.Context) {
	var req facingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBadRequest(c, err)
		return
	}

	facing, err := device.ParseFacing(req.Facing)
	if err != nil {
		s.respondBadRequest(c, err)
		return
	}

	if err := s.controller.SetFacing(c.Request.Context(), facing); err != nil {
		s.respondError(c, err)
		return
	}
	s.respondSnapshot(c)
}

// handleFlash はフラッシュを切り替える。非対応のデバイスでは何もしない
func (s *Server) handleFlash(c *gin.Context) {
	var req flashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBadRequest(c, err)
		return
	}

	if err := s.controller.SetFlash(c.Request.Context(), *req.On); err != nil {
		s.respondError(c, err)
		return
	}
	s.respondSnapshot(c)
}

// handleAutoFocus はオートフォーカスループの有効・無効を切り替える
func (s *Server) handleAutoFocus(c *gin.Context) {
	var req autoFocusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBadRequest(c, err)
		return
	}

	if err := s.controller.SetAutoFocus(c.Request.Context(), *req.Enabled); err != nil {
		s.respondError(c, err)
		return
	}
	s.respondSnapshot(c)
}

// handleCapture は静止画を撮影して生のバイト列を返す。撮影後のセッションは終了する
func (s *Server) handleCapture(c *gin.Context) {
	ctx := c.Request.Context()

	results, err := s.controller.Capture(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}

	select {
	case res := <-results:
		if res.Err != nil {
			s.respondError(c, res.Err)
			return
		}
		c.Data(http.StatusOK, http.DetectContentType(res.Data), res.Data)
	case <-ctx.Done():
		s.respondError(c, ctx.Err())
	}
}

// handleFrame は最新のプレビューフレームを返す
func (s *Server) handleFrame(c *gin.Context) {
	frame, ok := s.surface.Frame()
	if !ok {
		s.respondJSONError(c, http.StatusNotFound, "frame_not_found", "プレビューフレームがまだありません")
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(frame), frame)
}

// handlePicture はフォーカスループで撮影された最新の静止画を返す
func (s *Server) handlePicture(c *gin.Context) {
	data, takenAt, ok := s.pictures.Latest()
	if !ok {
		s.respondJSONError(c, http.StatusNotFound, "picture_not_found", "静止画がまだ撮影されていません")
		return
	}
	c.Header("Last-Modified", takenAt.UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

// handleStream はプレビューフレームをMJPEGで配信する
func (s *Server) handleStream(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	writer := c.Writer
	clientGone := c.Request.Context().Done()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	var sent int64
	for {
		select {
		case <-clientGone:
			return
		case <-ticker.C:
			count := s.surface.FrameCount()
			if count == sent {
				continue
			}
			frame, ok := s.surface.Frame()
			if !ok {
				continue
			}
			sent = count

			if err := writeMJPEGPart(writer, frame); err != nil {
				return
			}
			writer.Flush()
		}
	}
}

func writeMJPEGPart(w gin.ResponseWriter, frame []byte) error {
	for _, chunk := range [][]byte{
		[]byte("--frame\r\n"),
		[]byte("Content-Type: image/jpeg\r\n\r\n"),
		frame,
		[]byte("\r\n"),
	} {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// handleSurfaceCreated はサーフェスの作成を通知する
func (s *Server) handleSurfaceCreated(c *gin.Context) {
	if err := s.surface.Create(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	s.respondSnapshot(c)
}

// handleSurfaceChanged はサーフェスの変更を通知する
func (s *Server) handleSurfaceChanged(c *gin.Context) {
	var req surfaceChangedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBadRequest(c, err)
		return
	}

	if err := s.surface.Change(c.Request.Context(), req.Format, req.Width, req.Height); err != nil {
		s.respondError(c, err)
		return
	}
	s.respondSnapshot(c)
}

// handleSurfaceDestroyed はサーフェスの破棄を通知する
func (s *Server) handleSurfaceDestroyed(c *gin.Context) {
	if err := s.surface.Destroy(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	s.respondSnapshot(c)
}

// handleRotation は画面の回転を変更し、作成済みのサーフェスに変更を通知する
func (s *Server) handleRotation(c *gin.Context) {
	var req rotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBadRequest(c, err)
		return
	}

	rotation, err := preview.RotationFromDegrees(*req.Degrees)
	if err != nil {
		s.respondBadRequest(c, err)
		return
	}
	s.display.SetRotation(rotation)

	if s.surface.IsCreated() {
		size := s.surface.Size()
		if size.Width <= 0 || size.Height <= 0 {
			size = preview.PreviewAspectSize(s.display.Width())
		}
		if err := s.surface.Change(c.Request.Context(), 0, size.Width, size.Height); err != nil {
			s.respondError(c, err)
			return
		}
	}
	s.respondSnapshot(c)
}

// respondSnapshot は現在のコントローラーの状態を返す
func (s *Server) respondSnapshot(c *gin.Context) {
	snap, err := s.controller.Snapshot(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) respondBadRequest(c *gin.Context, err error) {
	s.respondJSONError(c, http.StatusBadRequest, "invalid_request", err.Error())
}

// respondError はエラーの種類に応じたステータスコードで応答する
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warnw("リクエストの処理に失敗", "path", c.Request.URL.Path, "error", err)
	}
	s.respondJSONError(c, status, code, err.Error())
}

func (s *Server) respondJSONError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// classifyError はエラーをHTTPステータスとエラーコードに変換する
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, device.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable, "device_unavailable"
	case errors.Is(err, device.ErrParameterRejected):
		return http.StatusUnprocessableEntity, "parameter_rejected"
	case errors.Is(err, preview.ErrNotPreviewing):
		return http.StatusConflict, "not_previewing"
	case errors.Is(err, preview.ErrCaptureInProgress):
		return http.StatusConflict, "capture_in_progress"
	case errors.Is(err, preview.ErrSessionClosed):
		return http.StatusConflict, "session_closed"
	case errors.Is(err, preview.ErrNotRunning):
		return http.StatusServiceUnavailable, "controller_not_running"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
