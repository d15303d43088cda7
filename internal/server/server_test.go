package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"camctl/internal/config"
	"camctl/internal/device"
	"camctl/internal/preview"
)

type testServer struct {
	srv      *Server
	backend  *device.MockBackend
	surface  *preview.MemorySurface
	ctrl     *preview.Controller
	pictures *PictureStore
}

func newTestServer(t *testing.T, autoFocus bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zaptest.NewLogger(t).Sugar()
	backend := device.NewMockBackend([]device.Info{
		{ID: "back", Name: "背面", Facing: device.FacingBack, Orientation: 90},
		{ID: "front", Name: "前面", Facing: device.FacingFront, Orientation: 270},
	})
	backend.Device("back").SetFlashSupport(true)

	manager := device.NewManager(backend, logger)
	surface := preview.NewMemorySurface()
	display := preview.NewStaticDisplay(preview.Rotation0, 1000)
	pictures := NewPictureStore()

	ctrl := preview.NewController(manager, surface, display, preview.Config{
		AutoFocus:     autoFocus,
		FocusInterval: time.Second,
		Clock:         clock.NewMock(),
		Logger:        logger,
		OnPicture:     pictures.Store,
	})
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, ctrl.Shutdown(context.Background()))
	})

	srv := New(config.Default(), Components{
		Controller: ctrl,
		Devices:    manager,
		Surface:    surface,
		Display:    display,
		Pictures:   pictures,
	}, logger)

	return &testServer{srv: srv, backend: backend, surface: surface, ctrl: ctrl, pictures: pictures}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) preview.Snapshot {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var snap preview.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	return snap
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0 // ランダムポートを使用

	srv := New(cfg, Components{}, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err, "サーバーの起動/停止でエラーが発生しました")
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

func TestHealthAndStatus(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = ts.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, preview.StateIdle, status.Camera.State)
	assert.Equal(t, config.BackendSimulated, status.Backend)

	w = ts.do(t, http.MethodGet, "/api/cameras", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"facing":"front"`)
}

func TestStartStopCamera(t *testing.T) {
	ts := newTestServer(t, false)

	// 向きの指定なしは背面
	snap := decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/camera/start", nil))
	assert.Equal(t, preview.StatePreviewing, snap.State)
	assert.Equal(t, device.FacingBack, snap.Facing)
	assert.Equal(t, 90, snap.Orientation)

	snap = decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/camera/start", gin.H{"facing": "front"}))
	assert.Equal(t, device.FacingFront, snap.Facing)
	assert.Equal(t, 1, ts.backend.OpenCount())

	snap = decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/camera/stop", nil))
	assert.Equal(t, preview.StateIdle, snap.State)
	assert.Equal(t, 0, ts.backend.OpenCount())
}

func TestStartCameraErrors(t *testing.T) {
	testCases := []struct {
		name       string
		setup      func(ts *testServer)
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "無効な向き",
			setup:      func(ts *testServer) {},
			body:       gin.H{"facing": "side"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "他のプロセスが使用中",
			setup:      func(ts *testServer) { ts.backend.SetClaimed("back", true) },
			body:       gin.H{"facing": "back"},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "device_unavailable",
		},
		{
			name:       "パラメーターの拒否",
			setup:      func(ts *testServer) { ts.backend.Device("back").SetShouldFailSetParameters(true) },
			body:       gin.H{"facing": "back"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "parameter_rejected",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, false)
			tc.setup(ts)

			w := ts.do(t, http.MethodPost, "/api/camera/start", tc.body)
			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Equal(t, tc.wantCode, decodeError(t, w).Error)

			// 失敗してもデバイスは保持しない
			assert.Equal(t, 0, ts.backend.OpenCount())
		})
	}
}

func TestSetFacing(t *testing.T) {
	ts := newTestServer(t, false)
	decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/camera/start", nil))

	snap := decodeSnapshot(t, ts.do(t, http.MethodPut, "/api/camera/facing", gin.H{"facing": "front"}))
	assert.Equal(t, device.FacingFront, snap.Facing)
	assert.Equal(t, "front", snap.DeviceID)
	assert.True(t, ts.backend.Device("back").IsClosed())

	w := ts.do(t, http.MethodPut, "/api/camera/facing", gin.H{"facing": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetFlash(t *testing.T) {
	ts := newTestServer(t, false)
	decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/camera/start", nil))

	snap := decodeSnapshot(t, ts.do(t, http.MethodPut, "/api/camera/flash", gin.H{"on": true}))
	assert.Equal(t, device.FlashTorch, snap.Flash)

	snap = decodeSnapshot(t, ts.do(t, http.MethodPut, "/api/camera/flash", gin.H{"on": false}))
	assert.Equal(t, device.FlashOff, snap.Flash)

	w := ts.do(t, http.MethodPut, "/api/camera/flash", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetAutoFocus(t *testing.T) {
	ts := newTestServer(t, true)

	snap := decodeSnapshot(t, ts.do(t, http.MethodPut, "/api/camera/autofocus", gin.H{"enabled": false}))
	assert.False(t, snap.AutoFocus)

	snap = decodeSnapshot(t, ts.do(t, http.MethodPut, "/api/camera/autofocus", gin.H{"enabled": true}))
	assert.True(t, snap.AutoFocus)

	w := ts.do(t, http.MethodPut, "/api/camera/autofocus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCapture(t *testing.T) {
	ts := newTestServer(t, false)

	// プレビュー中でなければ撮影できない
	w := ts.do(t, http.MethodPost, "/api/camera/capture", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_previewing", decodeError(t, w).Error)

	decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/camera/start", nil))

	w = ts.do(t, http.MethodPost, "/api/camera/capture", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "picture:back", w.Body.String())

	// 撮影後はセッションが終了している
	w = ts.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, preview.StateIdle, status.Camera.State)
	assert.Equal(t, 0, ts.backend.OpenCount())
}

func TestCaptureInProgress(t *testing.T) {
	ts := newTestServer(t, false)
	dev := ts.backend.Device("back")
	dev.SetHoldPicture(true)

	decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/camera/start", nil))

	// 1枚目は完了待ちのまま保持する
	first, err := ts.ctrl.Capture(context.Background())
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/api/camera/capture", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "capture_in_progress", decodeError(t, w).Error)

	require.True(t, dev.CompletePicture(device.PictureResult{Data: []byte("held")}))
	res := <-first
	require.NoError(t, res.Err)
	assert.Equal(t, []byte("held"), res.Data)
}

func TestSurfaceLifecycle(t *testing.T) {
	ts := newTestServer(t, false)
	decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/camera/start", nil))

	snap := decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/surface", nil))
	assert.True(t, snap.SurfaceReady)
	assert.Equal(t, preview.StatePreviewing, snap.State)

	snap = decodeSnapshot(t, ts.do(t, http.MethodPut, "/api/surface", gin.H{"format": 1, "width": 1000, "height": 600}))
	assert.Equal(t, preview.StatePreviewing, snap.State)

	snap = decodeSnapshot(t, ts.do(t, http.MethodDelete, "/api/surface", nil))
	assert.False(t, snap.SurfaceReady)
	assert.Equal(t, preview.StateIdle, snap.State)
	assert.Equal(t, 0, ts.backend.OpenCount())
}

func TestDisplayRotation(t *testing.T) {
	ts := newTestServer(t, false)
	decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/camera/start", nil))
	decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/surface", nil))

	testCases := []struct {
		degrees  int
		expected int
	}{
		{90, 0},
		{180, 270},
		{270, 180},
		{0, 90},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("回転%d度", tc.degrees), func(t *testing.T) {
			snap := decodeSnapshot(t, ts.do(t, http.MethodPut, "/api/display/rotation", gin.H{"degrees": tc.degrees}))
			assert.Equal(t, tc.expected, snap.Orientation)
			assert.Equal(t, tc.expected, ts.backend.Device("back").Orientation())
		})
	}

	w := ts.do(t, http.MethodPut, "/api/display/rotation", gin.H{"degrees": 45})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFrameAndPicture(t *testing.T) {
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodGet, "/api/camera/frame", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodGet, "/api/camera/picture", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// サーフェスが作成されるとフォーカスループが撮影する
	decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/camera/start", nil))
	decodeSnapshot(t, ts.do(t, http.MethodPost, "/api/surface", nil))
	require.Equal(t, 1, ts.pictures.Count())

	w = ts.do(t, http.MethodGet, "/api/camera/picture", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "picture:back", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("Last-Modified"))

	require.NoError(t, ts.surface.DrawFrame([]byte("frame-1")))
	w = ts.do(t, http.MethodGet, "/api/camera/frame", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "frame-1", w.Body.String())
}

func TestStream(t *testing.T) {
	ts := newTestServer(t, false)
	require.NoError(t, ts.surface.DrawFrame([]byte("frame-1")))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/camera/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "--frame\r\nContent-Type: image/jpeg\r\n\r\nframe-1\r\n")
}

func TestControllerNotRunning(t *testing.T) {
	ts := newTestServer(t, false)
	require.NoError(t, ts.ctrl.Shutdown(context.Background()))

	w := ts.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "controller_not_running", decodeError(t, w).Error)
}

func TestClassifyError(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"デバイス利用不可", errors.Wrap(device.ErrDeviceUnavailable, "back"), http.StatusServiceUnavailable},
		{"パラメーター拒否", errors.Wrap(device.ErrParameterRejected, "size"), http.StatusUnprocessableEntity},
		{"プレビュー中でない", preview.ErrNotPreviewing, http.StatusConflict},
		{"撮影中", preview.ErrCaptureInProgress, http.StatusConflict},
		{"セッション終了", preview.ErrSessionClosed, http.StatusConflict},
		{"未起動", preview.ErrNotRunning, http.StatusServiceUnavailable},
		{"タイムアウト", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"その他", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := classifyError(tc.err)
			assert.Equal(t, tc.wantStatus, status)
		})
	}
}
