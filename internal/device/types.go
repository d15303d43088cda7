package device

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrDeviceUnavailable は指定した向きのデバイスが存在しないか、既に使用中であることを表す
	ErrDeviceUnavailable = errors.New("カメラデバイスが利用できません")
	// ErrParameterRejected はデバイスがパラメーターの適用を拒否したことを表す
	ErrParameterRejected = errors.New("カメラパラメーターが拒否されました")
	// ErrHandleReleased は解放済みのハンドルを操作したことを表す
	ErrHandleReleased = errors.New("カメラハンドルは解放済みです")
)

// Facing はカメラの向きを表す
type Facing string

const (
	FacingBack  Facing = "back"  // 背面カメラ
	FacingFront Facing = "front" // 前面カメラ
)

// ParseFacing は文字列からFacingを取得する
func ParseFacing(s string) (Facing, error) {
	switch Facing(strings.ToLower(strings.TrimSpace(s))) {
	case FacingBack:
		return FacingBack, nil
	case FacingFront:
		return FacingFront, nil
	default:
		return "", errors.Errorf("無効なカメラの向き: %q", s)
	}
}

// FlashMode はフラッシュの動作モードを表す
type FlashMode string

const (
	FlashOff   FlashMode = "off"   // 消灯
	FlashTorch FlashMode = "torch" // 常時点灯
)

// Size は幅と高さの組
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Info はカメラデバイスのメタデータ
type Info struct {
	ID          string // バックエンド内での識別子
	Name        string // 表示名
	Facing      Facing // 向き
	Orientation int    // 取り付け角度（度）
}

// Parameters はデバイスに適用するパラメーター
type Parameters struct {
	PreviewSize         Size
	FlashMode           FlashMode
	SupportedFlashModes []FlashMode
}

// FocusOutcome はオートフォーカス1回分の結果
type FocusOutcome int

const (
	FocusFailed FocusOutcome = iota
	FocusSucceeded
)

// FocusResult はオートフォーカスの完了通知
type FocusResult struct {
	Outcome FocusOutcome
}

// Succeeded はフォーカスが合ったかを返す
func (r FocusResult) Succeeded() bool {
	return r.Outcome == FocusSucceeded
}

// PictureResult は静止画撮影の完了通知
// Data は生のフレームバイト列で、エンコードや保存は呼び出し側の責務
type PictureResult struct {
	Data []byte
	Err  error
}

// PreviewTarget はプレビューフレームの描画先
type PreviewTarget interface {
	DrawFrame(frame []byte) error
}

// Device はオープン済みの物理カメラを表す
//
// AutoFocus と TakePicture は即座に戻り、結果は容量1のチャンネルに1度だけ送られる。
// 結果はデバイス側のワーカーから送られるため、受信側で所有スレッドに戻す必要がある。
type Device interface {
	Info() Info
	SetPreviewTarget(target PreviewTarget) error
	SetDisplayOrientation(degrees int) error
	Parameters() (Parameters, error)
	SetParameters(ctx context.Context, params Parameters) error
	StartPreview(ctx context.Context) error
	StopPreview(ctx context.Context) error
	AutoFocus(ctx context.Context) (<-chan FocusResult, error)
	CancelAutoFocus() error
	TakePicture(ctx context.Context) (<-chan PictureResult, error)
	Close() error
}

// Backend はカメラデバイスの列挙とオープンを担う
type Backend interface {
	// Devices はシステム内のカメラを列挙する
	Devices(ctx context.Context) ([]Info, error)

	// Open は指定したIDのデバイスを開く。他の保持者に使われている場合は失敗する
	Open(ctx context.Context, id string) (Device, error)
}
