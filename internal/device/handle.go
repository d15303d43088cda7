package device

import (
	"context"

	"go.uber.org/atomic"
)

// Handle は Manager が排他的に所有するカメラハンドル
// 解放後はすべての操作が ErrHandleReleased を返す
type Handle struct {
	dev      Device
	info     Info
	released atomic.Bool
}

func newHandle(dev Device, info Info) *Handle {
	return &Handle{dev: dev, info: info}
}

// Released はハンドルが解放済みかを返す
func (h *Handle) Released() bool {
	return h.released.Load()
}

// Info はデバイス情報を返す
func (h *Handle) Info() Info {
	return h.info
}

// SetPreviewTarget はプレビューの描画先を設定する
func (h *Handle) SetPreviewTarget(target PreviewTarget) error {
	if h.Released() {
		return ErrHandleReleased
	}
	return h.dev.SetPreviewTarget(target)
}

// SetDisplayOrientation は表示回転角を設定する
func (h *Handle) SetDisplayOrientation(degrees int) error {
	if h.Released() {
		return ErrHandleReleased
	}
	return h.dev.SetDisplayOrientation(degrees)
}

// Parameters は現在のパラメーターを取得する
func (h *Handle) Parameters() (Parameters, error) {
	if h.Released() {
		return Parameters{}, ErrHandleReleased
	}
	return h.dev.Parameters()
}

// SetParameters はパラメーターを適用する
func (h *Handle) SetParameters(ctx context.Context, params Parameters) error {
	if h.Released() {
		return ErrHandleReleased
	}
	return h.dev.SetParameters(ctx, params)
}

// StartPreview はプレビューを開始する
func (h *Handle) StartPreview(ctx context.Context) error {
	if h.Released() {
		return ErrHandleReleased
	}
	return h.dev.StartPreview(ctx)
}

// StopPreview はプレビューを停止する
func (h *Handle) StopPreview(ctx context.Context) error {
	if h.Released() {
		return ErrHandleReleased
	}
	return h.dev.StopPreview(ctx)
}

// AutoFocus はオートフォーカスを1回試行する
func (h *Handle) AutoFocus(ctx context.Context) (<-chan FocusResult, error) {
	if h.Released() {
		return nil, ErrHandleReleased
	}
	return h.dev.AutoFocus(ctx)
}

// CancelAutoFocus は進行中のオートフォーカスを中止する
func (h *Handle) CancelAutoFocus() error {
	if h.Released() {
		return ErrHandleReleased
	}
	return h.dev.CancelAutoFocus()
}

// TakePicture は静止画を1枚撮影する
func (h *Handle) TakePicture(ctx context.Context) (<-chan PictureResult, error) {
	if h.Released() {
		return nil, ErrHandleReleased
	}
	return h.dev.TakePicture(ctx)
}
