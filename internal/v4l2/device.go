package v4l2

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camctl/internal/device"
)

const (
	maxDimension   = 4096
	focusTimeout   = 5 * time.Second
	captureTimeout = 10 * time.Second

	// UVCカメラにはワンショットのフォーカスが無いため、連続AFの有効化を1回の試行として扱う
	focusControl = "focus_automatic_continuous"
)

var (
	errDeviceClosed   = errors.New("デバイスは閉じられています")
	errPreviewStopped = errors.New("プレビューが停止されました")
)

// Device はオープン済みのV4L2カメラ
type Device struct {
	info    device.Info
	path    string
	fps     int
	logger  *zap.SugaredLogger
	onClose func()

	// デバイスの寿命に紐づくコンテキスト。Close でキャンセルされる
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	params      device.Parameters
	orientation int
	target      device.PreviewTarget
	closed      bool

	streamCancel context.CancelFunc
	streamID     uint64
	streamWG     sync.WaitGroup
	frameWaiters []chan device.PictureResult
	focusCancel  context.CancelFunc
}

func newDevice(e entry, logger *zap.SugaredLogger, onClose func()) *Device {
	ctx, cancel := context.WithCancel(context.Background())

	fps := e.fps
	if fps <= 0 {
		fps = defaultFPS
	}

	return &Device{
		info:    e.info,
		path:    e.path,
		fps:     fps,
		logger:  logger,
		onClose: onClose,
		ctx:     ctx,
		cancel:  cancel,
		params: device.Parameters{
			PreviewSize:         device.Size{Width: defaultWidth, Height: defaultHeight},
			FlashMode:           device.FlashOff,
			SupportedFlashModes: []device.FlashMode{device.FlashOff},
		},
	}
}

// capturerLocked は現在のパラメーターでCapturerを作る
func (d *Device) capturerLocked() *Capturer {
	c := NewCapturer(d.path, d.params.PreviewSize.Width, d.params.PreviewSize.Height, d.fps)
	c.rotation = d.orientation
	return c
}

// Info はデバイス情報を返す
func (d *Device) Info() device.Info {
	return d.info
}

// SetPreviewTarget は描画先を設定する。次回のプレビュー開始から有効
func (d *Device) SetPreviewTarget(target device.PreviewTarget) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errDeviceClosed
	}
	d.target = target
	return nil
}

// SetDisplayOrientation は表示回転角を設定する。ストリームには次回のプレビュー開始から反映される
func (d *Device) SetDisplayOrientation(degrees int) error {
	if degrees < 0 || degrees >= 360 || degrees%90 != 0 {
		return errors.Errorf("無効な表示回転角: %d", degrees)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errDeviceClosed
	}
	d.orientation = degrees
	return nil
}

// Parameters は現在のパラメーターを返す
func (d *Device) Parameters() (device.Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return device.Parameters{}, errDeviceClosed
	}
	params := d.params
	params.SupportedFlashModes = append([]device.FlashMode(nil), d.params.SupportedFlashModes...)
	return params, nil
}

// SetParameters はパラメーターを検証して保持する
func (d *Device) SetParameters(_ context.Context, params device.Parameters) error {
	if err := validateParameters(params); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errDeviceClosed
	}
	d.params.PreviewSize = params.PreviewSize
	return nil
}

func validateParameters(params device.Parameters) error {
	size := params.PreviewSize
	if size.Width <= 0 || size.Width > maxDimension {
		return errors.Errorf("無効な幅: %d", size.Width)
	}
	if size.Height <= 0 || size.Height > maxDimension {
		return errors.Errorf("無効な高さ: %d", size.Height)
	}
	if params.FlashMode != "" && params.FlashMode != device.FlashOff {
		return errors.Errorf("未対応のフラッシュモード: %s", params.FlashMode)
	}
	return nil
}

// StartPreview はffmpegのストリームを起動し、フレームを描画先に送る
func (d *Device) StartPreview(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errDeviceClosed
	}
	if d.streamCancel != nil {
		return nil
	}
	if d.target == nil {
		return errors.New("描画先が設定されていません")
	}

	streamCtx, cancel := context.WithCancel(d.ctx)
	frames := make(chan []byte, 4)
	errs := make(chan error, 1)
	if err := d.capturerLocked().StartStream(streamCtx, frames, errs); err != nil {
		cancel()
		return errors.Wrapf(err, "プレビューの開始に失敗: %s", d.path)
	}

	d.streamCancel = cancel
	d.streamID++
	d.streamWG.Add(1)
	go d.pump(streamCtx, d.streamID, d.target, frames, errs)
	return nil
}

// pump はストリームのフレームを描画し、撮影待ちに渡す
func (d *Device) pump(ctx context.Context, id uint64, target device.PreviewTarget, frames <-chan []byte, errs <-chan error) {
	defer d.streamWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			if err := target.DrawFrame(frame); err != nil {
				d.logger.Debugw("フレームの描画に失敗", "id", d.info.ID, "error", err)
			}
			d.resolveWaiters(device.PictureResult{Data: frame})
		case err := <-errs:
			d.logger.Warnw("プレビューストリームが停止しました", "id", d.info.ID, "error", err)
			// 後から来た撮影が止まったストリームを待たないよう、先に終了を記録する
			d.endStream(id)
			d.resolveWaiters(device.PictureResult{Err: err})
			return
		}
	}
}

// endStream は id のストリームがまだ現在のものであれば停止済みにする
func (d *Device) endStream(id uint64) {
	d.mu.Lock()
	var cancel context.CancelFunc
	if d.streamID == id {
		cancel = d.streamCancel
		d.streamCancel = nil
	}
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (d *Device) resolveWaiters(result device.PictureResult) {
	d.mu.Lock()
	waiters := d.frameWaiters
	d.frameWaiters = nil
	d.mu.Unlock()

	for _, ch := range waiters {
		r := result
		if r.Data != nil {
			r.Data = append([]byte(nil), result.Data...)
		}
		ch <- r
	}
}

// StopPreview はストリームを停止する
func (d *Device) StopPreview(_ context.Context) error {
	d.mu.Lock()
	cancel := d.streamCancel
	d.streamCancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	d.streamWG.Wait()
	d.resolveWaiters(device.PictureResult{Err: errPreviewStopped})
	return nil
}

// AutoFocus はフォーカスを試行する。結果は返り値のチャンネルに1度だけ送られる
func (d *Device) AutoFocus(_ context.Context) (<-chan device.FocusResult, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errDeviceClosed
	}
	if d.focusCancel != nil {
		d.focusCancel()
	}
	focusCtx, cancel := context.WithTimeout(d.ctx, focusTimeout)
	d.focusCancel = cancel
	c := d.capturerLocked()
	d.mu.Unlock()

	ch := make(chan device.FocusResult, 1)
	go func() {
		defer cancel()

		outcome := device.FocusSucceeded
		if err := c.SetControl(focusCtx, focusControl, 1); err != nil {
			d.logger.Debugw("フォーカスの設定に失敗", "id", d.info.ID, "error", err)
			outcome = device.FocusFailed
		}
		ch <- device.FocusResult{Outcome: outcome}
	}()
	return ch, nil
}

// CancelAutoFocus は実行中のフォーカス試行を中止する
func (d *Device) CancelAutoFocus() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.focusCancel != nil {
		d.focusCancel()
		d.focusCancel = nil
	}
	return nil
}

// TakePicture は静止画を撮影する
// プレビュー中はストリームの次のフレームを、それ以外はffmpegで1フレームを取得する
func (d *Device) TakePicture(_ context.Context) (<-chan device.PictureResult, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errDeviceClosed
	}

	ch := make(chan device.PictureResult, 1)
	if d.streamCancel != nil {
		d.frameWaiters = append(d.frameWaiters, ch)
		d.mu.Unlock()
		return ch, nil
	}
	c := d.capturerLocked()
	d.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(d.ctx, captureTimeout)
		defer cancel()

		data, err := c.CaptureFrameAsJPEG(ctx)
		ch <- device.PictureResult{Data: data, Err: err}
	}()
	return ch, nil
}

// Close はデバイスを閉じ、バックエンドの使用中状態を解除する
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.target = nil
	d.mu.Unlock()

	err := d.StopPreview(context.Background())
	d.cancel()
	if d.onClose != nil {
		d.onClose()
	}

	d.logger.Infow("V4L2デバイスを閉じました", "id", d.info.ID, "device", d.path)
	return err
}
