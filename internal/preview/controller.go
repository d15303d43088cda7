package preview

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"camctl/internal/device"
)

// request は所有ゴルーチンで実行する処理
type request struct {
	fn   func()
	done chan struct{}
}

// focusAttempt は発行済みのオートフォーカス1回分
type focusAttempt struct {
	session string
	ch      <-chan device.FocusResult
}

// shotAttempt はフォーカスループが発行した撮影
type shotAttempt struct {
	session string
	ch      <-chan device.PictureResult
}

// pendingCapture は呼び出し側が要求した撮影
type pendingCapture struct {
	session string
	ch      <-chan device.PictureResult
	reply   chan device.PictureResult
}

func (p *pendingCapture) resolve(result device.PictureResult) {
	p.reply <- result
	close(p.reply)
}

// Controller はカメラデバイスとサーフェスを結び付け、プレビューを制御する
type Controller struct {
	devices   *device.Manager
	surface   Surface
	display   Display
	clock     clock.Clock
	logger    *zap.SugaredLogger
	onPicture func(device.PictureResult)
	interval  time.Duration

	requests chan request
	stopCh   chan struct{}
	exited   chan struct{}
	running  atomic.Bool
	started  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	// 以下は所有ゴルーチンからのみ触る
	ctx          context.Context
	state        State
	facing       device.Facing
	dev          *device.Handle
	session      string
	registered   bool
	surfaceReady bool
	autoFocus    bool
	orientation  int
	previewSize  device.Size

	focusTimer   *clock.Timer
	focusSession string
	focus        *focusAttempt
	shot         *shotAttempt
	capture      *pendingCapture
}

// NewController は新しいControllerを作成する
func NewController(devices *device.Manager, surface Surface, display Display, cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.FocusInterval <= 0 {
		cfg.FocusInterval = DefaultConfig().FocusInterval
	}

	return &Controller{
		devices:   devices,
		surface:   surface,
		display:   display,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		onPicture: cfg.OnPicture,
		interval:  cfg.FocusInterval,
		requests:  make(chan request),
		stopCh:    make(chan struct{}),
		exited:    make(chan struct{}),
		state:     StateIdle,
		autoFocus: cfg.AutoFocus,
	}
}

// Start は所有ゴルーチンを開始する
// 起動できるのは1度だけで、終了後に呼ぶと ErrControllerStopped を返す
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		select {
		case <-c.exited:
			return ErrControllerStopped
		default:
			return nil
		}
	}

	c.running.Store(true)
	c.ctx = ctx
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Shutdown はカメラを停止してから所有ゴルーチンを終了する
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.StopCamera(ctx); err != nil && err != ErrNotRunning {
		return err
	}

	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	return nil
}

// run は所有ゴルーチンのメインループ
func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.stopCamera()
		c.running.Store(false)
		close(c.exited)
	}()

	for {
		c.drain()

		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case req := <-c.requests:
			c.drain()
			req.fn()
			c.drain()
			close(req.done)
		case <-c.focusTimerC():
			c.onFocusTimer()
		case res := <-c.focusResultC():
			c.onFocusResult(res)
		case res := <-c.shotResultC():
			c.onShotResult(res)
		case res := <-c.captureResultC():
			c.onCaptureResult(res)
		}
	}
}

// drain は準備済みの完了通知とタイマーをすべて処理する
func (c *Controller) drain() {
	for {
		select {
		case <-c.focusTimerC():
			c.onFocusTimer()
		case res := <-c.focusResultC():
			c.onFocusResult(res)
		case res := <-c.shotResultC():
			c.onShotResult(res)
		case res := <-c.captureResultC():
			c.onCaptureResult(res)
		default:
			return
		}
	}
}

func (c *Controller) focusTimerC() <-chan time.Time {
	if c.focusTimer == nil {
		return nil
	}
	return c.focusTimer.C
}

func (c *Controller) focusResultC() <-chan device.FocusResult {
	if c.focus == nil {
		return nil
	}
	return c.focus.ch
}

func (c *Controller) shotResultC() <-chan device.PictureResult {
	if c.shot == nil {
		return nil
	}
	return c.shot.ch
}

func (c *Controller) captureResultC() <-chan device.PictureResult {
	if c.capture == nil {
		return nil
	}
	return c.capture.ch
}

// do は所有ゴルーチンで fn を実行し、完了まで待つ
func (c *Controller) do(ctx context.Context, fn func()) error {
	if !c.running.Load() {
		return ErrNotRunning
	}

	req := request{fn: fn, done: make(chan struct{})}
	select {
	case c.requests <- req:
	case <-c.exited:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-c.exited:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartCamera は指定した向きのカメラを開いてプレビューを開始する
// 失敗した場合はハンドルを解放して idle に戻る
func (c *Controller) StartCamera(ctx context.Context, facing device.Facing) error {
	var err error
	if qerr := c.do(ctx, func() { err = c.startCamera(facing) }); qerr != nil {
		return qerr
	}
	return err
}

// StopCamera はプレビューを停止してデバイスを解放する。何度呼んでもよい
func (c *Controller) StopCamera(ctx context.Context) error {
	return c.do(ctx, c.stopCamera)
}

// SetFacing はカメラを停止し、指定した向きで開き直す
// 停止と開始は1つの処理として直列化されるため、間にサーフェス通知が割り込むことはない
func (c *Controller) SetFacing(ctx context.Context, facing device.Facing) error {
	var err error
	qerr := c.do(ctx, func() {
		c.stopCamera()
		err = c.startCamera(facing)
	})
	if qerr != nil {
		return qerr
	}
	return err
}

// SetFlash はトーチの点灯・消灯を切り替える
// デバイス未保持やフラッシュ非対応の場合は何もしない
func (c *Controller) SetFlash(ctx context.Context, on bool) error {
	return c.do(ctx, func() { c.setFlash(on) })
}

// SetAutoFocus はオートフォーカスループの有効・無効を切り替える
func (c *Controller) SetAutoFocus(ctx context.Context, enabled bool) error {
	return c.do(ctx, func() { c.setAutoFocus(enabled) })
}

// Capture は静止画を1枚撮影する
// 結果は返されたチャンネルに1度だけ届き、成否にかかわらずプレビューセッションは終了する
func (c *Controller) Capture(ctx context.Context) (<-chan device.PictureResult, error) {
	var (
		reply <-chan device.PictureResult
		err   error
	)
	if qerr := c.do(ctx, func() { reply, err = c.takeCapture() }); qerr != nil {
		return nil, qerr
	}
	return reply, err
}

// Snapshot は現在の状態を取得する
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := c.do(ctx, func() { snap = c.snapshot() }); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// SurfaceCreated はサーフェスが作成されたときに呼ばれる
func (c *Controller) SurfaceCreated(ctx context.Context) error {
	return c.do(ctx, c.onSurfaceCreated)
}

// SurfaceChanged はサーフェスの形式や大きさが変わったとき（画面回転など）に呼ばれる
func (c *Controller) SurfaceChanged(ctx context.Context, format, width, height int) error {
	return c.do(ctx, func() { c.onSurfaceChanged(format, width, height) })
}

// SurfaceDestroyed はサーフェスが破棄されたときに呼ばれる
func (c *Controller) SurfaceDestroyed(ctx context.Context) error {
	return c.do(ctx, c.onSurfaceDestroyed)
}

// snapshot は状態のコピーを作る
func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		State:          c.state,
		Facing:         c.facing,
		SessionID:      c.session,
		SurfaceReady:   c.surfaceReady,
		AutoFocus:      c.autoFocus,
		FocusScheduled: c.focusTimer != nil,
		FocusPending:   c.focus != nil,
		Capturing:      c.capture != nil,
	}

	if c.dev != nil {
		snap.DeviceID = c.dev.Info().ID
		snap.Orientation = c.orientation
		snap.PreviewSize = c.previewSize
		if params, err := c.dev.Parameters(); err == nil {
			snap.Flash = params.FlashMode
		}
	}
	return snap
}
