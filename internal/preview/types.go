package preview

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camctl/internal/device"
)

var (
	// ErrNotRunning はコントローラーのゴルーチンが動作していないことを表す
	ErrNotRunning = errors.New("プレビューコントローラーが起動していません")
	// ErrNotPreviewing はプレビュー中でないため操作できないことを表す
	ErrNotPreviewing = errors.New("プレビュー中ではありません")
	// ErrCaptureInProgress は既に撮影が進行中であることを表す
	ErrCaptureInProgress = errors.New("撮影が既に進行中です")
	// ErrSessionClosed は撮影完了前にプレビューセッションが終了したことを表す
	ErrSessionClosed = errors.New("プレビューセッションが終了しました")
	// ErrControllerStopped は一度終了したコントローラーを再び起動しようとしたことを表す
	ErrControllerStopped = errors.New("終了したプレビューコントローラーは再起動できません")
)

// State はプレビューの状態を表す
type State string

const (
	StateIdle       State = "idle"       // デバイス未保持
	StateBound      State = "bound"      // デバイスを開きサーフェスに結び付け中
	StatePreviewing State = "previewing" // プレビュー中
	StateStopped    State = "stopped"    // 停止処理中
)

// Rotation はディスプレイの回転を表す
type Rotation int

const (
	Rotation0 Rotation = iota
	Rotation90
	Rotation180
	Rotation270
)

// Degrees は回転を角度に変換する
func (r Rotation) Degrees() int {
	switch r {
	case Rotation90:
		return 90
	case Rotation180:
		return 180
	case Rotation270:
		return 270
	default:
		return 0
	}
}

// RotationFromDegrees は角度から回転を取得する
func RotationFromDegrees(degrees int) (Rotation, error) {
	switch degrees {
	case 0:
		return Rotation0, nil
	case 90:
		return Rotation90, nil
	case 180:
		return Rotation180, nil
	case 270:
		return Rotation270, nil
	default:
		return Rotation0, errors.Errorf("無効な回転角: %d", degrees)
	}
}

// Display は表示中の画面に関する読み取り専用の問い合わせ
type Display interface {
	// Rotation は現在の画面回転を返す
	Rotation() Rotation

	// Width は画面の幅を返す
	Width() int
}

// SurfaceListener はサーフェスのライフサイクル通知を受け取る
type SurfaceListener interface {
	SurfaceCreated(ctx context.Context) error
	SurfaceChanged(ctx context.Context, format, width, height int) error
	SurfaceDestroyed(ctx context.Context) error
}

// Surface はプレビューを描画する外部のサーフェス
// Controller はサーフェスの寿命を所有せず、通知に反応するだけ
//
// Register / Unregister はコントローラーのゴルーチンから呼ばれるため、
// その中から SurfaceListener を同期的に呼び出してはならない
type Surface interface {
	device.PreviewTarget

	Register(listener SurfaceListener)
	Unregister(listener SurfaceListener)

	// Resize は描画領域の大きさを設定する
	Resize(size device.Size)

	// IsCreated はサーフェスが作成済みかを返す
	IsCreated() bool
}

// Snapshot はコントローラーの現在の状態
type Snapshot struct {
	State          State            `json:"state"`
	Facing         device.Facing    `json:"facing,omitempty"`
	DeviceID       string           `json:"device_id,omitempty"`
	SessionID      string           `json:"session_id,omitempty"`
	SurfaceReady   bool             `json:"surface_ready"`
	AutoFocus      bool             `json:"auto_focus"`
	FocusScheduled bool             `json:"focus_scheduled"`
	FocusPending   bool             `json:"focus_pending"`
	Capturing      bool             `json:"capturing"`
	Orientation    int              `json:"orientation"`
	PreviewSize    device.Size      `json:"preview_size"`
	Flash          device.FlashMode `json:"flash,omitempty"`
}

// Config はコントローラーの設定
type Config struct {
	AutoFocus     bool          // オートフォーカスループを有効にするか
	FocusInterval time.Duration // フォーカス試行の間隔
	Clock         clock.Clock
	Logger        *zap.SugaredLogger

	// OnPicture はフォーカスループで撮影された静止画を受け取る
	// コントローラーのゴルーチンから呼ばれるため、Controllerのメソッドを同期的に呼んではならない
	OnPicture func(device.PictureResult)
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		AutoFocus:     true,
		FocusInterval: time.Second,
	}
}
