package preview

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"camctl/internal/device"
)

// startCamera はデバイスを開き、サーフェスに結び付けてプレビューを開始する
// idle 以外から呼ばれた場合は一度停止してから開き直す
func (c *Controller) startCamera(facing device.Facing) error {
	if c.state != StateIdle {
		c.stopCamera()
	}
	c.facing = facing

	h, err := c.devices.Open(c.ctx, facing)
	if err != nil {
		c.state = StateIdle
		c.logger.Warnw("カメラを開けませんでした", "facing", facing, "error", err)
		return err
	}

	c.dev = h
	c.session = uuid.NewString()
	c.state = StateBound

	if err := c.bind(); err != nil {
		c.logger.Errorw("プレビューの開始に失敗", "facing", facing, "session", c.session, "error", err)
		c.stopCamera()
		return err
	}

	c.state = StatePreviewing
	c.logger.Infow("プレビューを開始しました",
		"facing", facing,
		"device", h.Info().ID,
		"session", c.session,
		"orientation", c.orientation,
	)

	c.startFocusLoop()
	return nil
}

// bind はサーフェスへの登録、表示角とプレビューサイズの適用、ストリーミング開始を行う
func (c *Controller) bind() error {
	c.surface.Register(c)
	c.registered = true
	// 未登録の間に作成・破棄された分は通知されないので、サーフェス自身の状態に合わせる
	c.surfaceReady = c.surface.IsCreated()

	if err := c.dev.SetPreviewTarget(c.surface); err != nil {
		return errors.Wrapf(device.ErrDeviceUnavailable, "描画先の設定に失敗: %v", err)
	}

	if err := c.applyOrientation(); err != nil {
		return errors.Wrapf(device.ErrParameterRejected, "表示角の設定に失敗: %v", err)
	}

	surfaceSize := PreviewAspectSize(c.display.Width())
	c.surface.Resize(surfaceSize)

	params, err := c.dev.Parameters()
	if err != nil {
		return errors.Wrapf(device.ErrParameterRejected, "パラメーターの取得に失敗: %v", err)
	}
	params.PreviewSize = sensorPreviewSize(surfaceSize)
	if err := c.dev.SetParameters(c.ctx, params); err != nil {
		return errors.Wrapf(device.ErrParameterRejected, "プレビューサイズ %dx%d の設定に失敗: %v",
			params.PreviewSize.Width, params.PreviewSize.Height, err)
	}
	c.previewSize = params.PreviewSize

	if err := c.dev.StartPreview(c.ctx); err != nil {
		return errors.Wrapf(device.ErrDeviceUnavailable, "プレビューの開始に失敗: %v", err)
	}
	return nil
}

// applyOrientation は現在の画面回転から表示角を計算し直してデバイスに適用する
func (c *Controller) applyOrientation() error {
	info := c.dev.Info()
	degrees := ComputeOrientation(info.Orientation, info.Facing, c.display.Rotation())
	if err := c.dev.SetDisplayOrientation(degrees); err != nil {
		return err
	}
	c.orientation = degrees
	return nil
}

// stopCamera はプレビューを止め、サーフェスから外れてデバイスを解放する
// 既に idle なら何もしない
func (c *Controller) stopCamera() {
	if c.state == StateIdle && c.dev == nil {
		return
	}

	session := c.session
	c.state = StateStopped
	c.cancelFocus()
	c.focus = nil
	c.shot = nil

	if c.registered {
		c.surface.Unregister(c)
		c.registered = false
	}

	if c.dev != nil && !c.dev.Released() {
		if err := multierr.Combine(c.dev.CancelAutoFocus(), c.dev.StopPreview(c.ctx)); err != nil {
			c.logger.Warnw("プレビューの停止に失敗", "session", session, "error", err)
		}
	}

	if c.capture != nil {
		p := c.capture
		c.capture = nil
		p.resolve(device.PictureResult{Err: ErrSessionClosed})
	}

	if err := c.devices.Release(); err != nil {
		c.logger.Warnw("カメラの解放に失敗", "session", session, "error", err)
	}

	c.dev = nil
	c.session = ""
	c.state = StateIdle
	c.logger.Infow("プレビューを停止しました", "session", session)
}

// takeCapture は静止画撮影を開始する
func (c *Controller) takeCapture() (<-chan device.PictureResult, error) {
	if c.dev == nil || c.state != StatePreviewing {
		return nil, ErrNotPreviewing
	}
	if c.capture != nil {
		return nil, ErrCaptureInProgress
	}

	ch, err := c.dev.TakePicture(c.ctx)
	if err != nil {
		c.stopCamera()
		return nil, errors.Wrap(err, "静止画の撮影に失敗")
	}

	reply := make(chan device.PictureResult, 1)
	c.capture = &pendingCapture{session: c.session, ch: ch, reply: reply}
	return reply, nil
}

// onCaptureResult は撮影の完了を受けてセッションを終了し、結果を呼び出し側に渡す
func (c *Controller) onCaptureResult(res device.PictureResult) {
	p := c.capture
	c.capture = nil
	if p == nil {
		return
	}

	if res.Err != nil {
		c.logger.Warnw("静止画の撮影に失敗", "session", p.session, "error", res.Err)
	}

	c.stopCamera()
	p.resolve(res)
}

// onSurfaceCreated はサーフェスの準備完了を記録し、先に開いていたデバイスを結び付け直す
func (c *Controller) onSurfaceCreated() {
	c.surfaceReady = true
	if c.dev == nil {
		return
	}

	if err := c.startCamera(c.facing); err != nil {
		c.logger.Warnw("サーフェス作成後の再開に失敗", "facing", c.facing, "error", err)
	}
}

// onSurfaceChanged は表示角を計算し直して適用する。ストリームは止めない
func (c *Controller) onSurfaceChanged(format, width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	if c.dev == nil || (c.state != StateBound && c.state != StatePreviewing) {
		return
	}

	if err := c.applyOrientation(); err != nil {
		c.logger.Warnw("表示角の再設定に失敗", "session", c.session, "error", err)
		return
	}
	c.logger.Debugw("サーフェスが変更されました",
		"format", format,
		"width", width,
		"height", height,
		"orientation", c.orientation,
	)
}

// onSurfaceDestroyed は状態にかかわらずカメラを停止する
func (c *Controller) onSurfaceDestroyed() {
	c.surfaceReady = false
	c.stopCamera()
}
