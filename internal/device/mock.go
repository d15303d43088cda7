package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MockBackend はテストとシミュレーター用のBackend実装
type MockBackend struct {
	mu      sync.Mutex
	infos   []Info
	devices map[string]*MockDevice
	claimed map[string]bool

	frameInterval time.Duration
}

// NewMockBackend は新しいMockBackendを作成する
func NewMockBackend(infos []Info) *MockBackend {
	b := &MockBackend{
		devices: make(map[string]*MockDevice),
		claimed: make(map[string]bool),
	}
	for _, info := range infos {
		b.addLocked(info)
	}
	return b
}

// NewSimulatedBackend は前面・背面カメラを持ち、一定間隔でプレビューフレームを描画するBackendを作成する
func NewSimulatedBackend(frameInterval time.Duration) *MockBackend {
	b := NewMockBackend([]Info{
		{ID: "sim-back", Name: "シミュレーター背面カメラ", Facing: FacingBack, Orientation: 90},
		{ID: "sim-front", Name: "シミュレーター前面カメラ", Facing: FacingFront, Orientation: 270},
	})
	b.frameInterval = frameInterval
	for _, dev := range b.devices {
		dev.frameInterval = frameInterval
		dev.params.SupportedFlashModes = []FlashMode{FlashOff, FlashTorch}
	}
	return b
}

// Devices はモックデバイスの一覧を返す
func (b *MockBackend) Devices(_ context.Context) ([]Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	infos := make([]Info, len(b.infos))
	copy(infos, b.infos)
	return infos, nil
}

// Open はモックデバイスを開く
func (b *MockBackend) Open(_ context.Context, id string) (Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, exists := b.devices[id]
	if !exists {
		return nil, errors.Errorf("デバイスが見つかりません: %s", id)
	}
	if b.claimed[id] {
		return nil, errors.Errorf("デバイス %s は他のプロセスが使用中です", id)
	}
	if err := dev.open(); err != nil {
		return nil, err
	}
	return dev, nil
}

// AddDevice はテスト用にデバイスを追加する
func (b *MockBackend) AddDevice(info Info) *MockDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(info)
}

func (b *MockBackend) addLocked(info Info) *MockDevice {
	if dev, exists := b.devices[info.ID]; exists {
		return dev
	}

	dev := &MockDevice{
		info:          info,
		closed:        true,
		frameInterval: b.frameInterval,
		focusOutcome:  FocusSucceeded,
		pictureData:   []byte(fmt.Sprintf("picture:%s", info.ID)),
		params: Parameters{
			PreviewSize: Size{Width: 640, Height: 480},
			FlashMode:   FlashOff,
		},
	}
	b.infos = append(b.infos, info)
	b.devices[info.ID] = dev
	return dev
}

// Device は指定したIDのモックデバイスを返す
func (b *MockBackend) Device(id string) *MockDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[id]
}

// SetClaimed はテスト用に外部プロセスによる使用中状態を設定する
func (b *MockBackend) SetClaimed(id string, claimed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.claimed[id] = claimed
}

// OpenCount は開かれているデバイスの数を返す
func (b *MockBackend) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, dev := range b.devices {
		if !dev.IsClosed() {
			count++
		}
	}
	return count
}

// MockDevice はテスト用のDevice実装
type MockDevice struct {
	mu     sync.Mutex
	info   Info
	params Parameters
	target PreviewTarget

	closed      bool
	previewing  bool
	orientation int

	// 呼び出し回数
	setParametersCalls int
	autoFocusCalls     int
	takePictureCalls   int
	cancelFocusCalls   int

	// テスト制御用
	shouldFailStartPreview  bool
	shouldFailSetParameters bool
	shouldFailAutoFocus     bool
	shouldFailTakePicture   bool
	holdFocus               bool
	holdPicture             bool
	focusOutcome            FocusOutcome
	pictureData             []byte
	pendingFocus            []chan FocusResult
	pendingPicture          []chan PictureResult

	// シミュレーター用
	frameInterval time.Duration
	stopFrames    chan struct{}
	frameWG       sync.WaitGroup
}

func (d *MockDevice) open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		return errors.Errorf("デバイス %s は既に開かれています", d.info.ID)
	}
	d.closed = false
	return nil
}

// Info はデバイス情報を返す
func (d *MockDevice) Info() Info {
	return d.info
}

// SetPreviewTarget は描画先を設定する
func (d *MockDevice) SetPreviewTarget(target PreviewTarget) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = target
	return nil
}

// SetDisplayOrientation は表示回転角を記録する
func (d *MockDevice) SetDisplayOrientation(degrees int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orientation = degrees
	return nil
}

// Parameters は現在のパラメーターのコピーを返す
func (d *MockDevice) Parameters() (Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	params := d.params
	params.SupportedFlashModes = append([]FlashMode(nil), d.params.SupportedFlashModes...)
	return params, nil
}

// SetParameters はパラメーターを適用する
func (d *MockDevice) SetParameters(_ context.Context, params Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.setParametersCalls++
	if d.shouldFailSetParameters {
		return errors.New("モック: パラメーターの適用に失敗")
	}
	d.params = params
	return nil
}

// StartPreview はプレビューを開始する
func (d *MockDevice) StartPreview(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shouldFailStartPreview {
		return errors.New("モック: プレビュー開始に失敗")
	}
	if d.previewing {
		return nil
	}
	d.previewing = true

	if d.frameInterval > 0 && d.target != nil {
		d.stopFrames = make(chan struct{})
		d.frameWG.Add(1)
		go d.emitFrames(d.target, d.stopFrames)
	}
	return nil
}

// StopPreview はプレビューを停止する
func (d *MockDevice) StopPreview(_ context.Context) error {
	d.mu.Lock()
	if !d.previewing {
		d.mu.Unlock()
		return nil
	}
	d.previewing = false
	stopCh := d.stopFrames
	d.stopFrames = nil
	d.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		d.frameWG.Wait()
	}
	return nil
}

// emitFrames は一定間隔でダミーフレームを描画する
func (d *MockDevice) emitFrames(target PreviewTarget, stopCh <-chan struct{}) {
	defer d.frameWG.Done()

	ticker := time.NewTicker(d.frameInterval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			seq++
			_ = target.DrawFrame([]byte(fmt.Sprintf("preview:%s:%d", d.info.ID, seq)))
		}
	}
}

// AutoFocus はオートフォーカスを試行する
func (d *MockDevice) AutoFocus(_ context.Context) (<-chan FocusResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.autoFocusCalls++
	if d.shouldFailAutoFocus {
		return nil, errors.New("モック: オートフォーカス中にハードウェアがビジー")
	}

	ch := make(chan FocusResult, 1)
	if d.holdFocus {
		d.pendingFocus = append(d.pendingFocus, ch)
		return ch, nil
	}
	ch <- FocusResult{Outcome: d.focusOutcome}
	return ch, nil
}

// CancelAutoFocus はオートフォーカスの中止を記録する
func (d *MockDevice) CancelAutoFocus() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelFocusCalls++
	return nil
}

// TakePicture は静止画撮影を行う
func (d *MockDevice) TakePicture(_ context.Context) (<-chan PictureResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.takePictureCalls++
	if d.shouldFailTakePicture {
		return nil, errors.New("モック: 撮影に失敗")
	}

	ch := make(chan PictureResult, 1)
	if d.holdPicture {
		d.pendingPicture = append(d.pendingPicture, ch)
		return ch, nil
	}
	ch <- PictureResult{Data: append([]byte(nil), d.pictureData...)}
	return ch, nil
}

// Close はデバイスを閉じる
func (d *MockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.target = nil
	return nil
}

// IsClosed はデバイスが閉じられているかを返す
func (d *MockDevice) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// IsPreviewing はプレビュー中かを返す
func (d *MockDevice) IsPreviewing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.previewing
}

// Orientation は最後に設定された表示回転角を返す
func (d *MockDevice) Orientation() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orientation
}

// Target は設定された描画先を返す
func (d *MockDevice) Target() PreviewTarget {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

// SetParametersCalls はSetParametersの呼び出し回数を返す
func (d *MockDevice) SetParametersCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setParametersCalls
}

// AutoFocusCalls はAutoFocusの呼び出し回数を返す
func (d *MockDevice) AutoFocusCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.autoFocusCalls
}

// TakePictureCalls はTakePictureの呼び出し回数を返す
func (d *MockDevice) TakePictureCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.takePictureCalls
}

// CancelAutoFocusCalls はCancelAutoFocusの呼び出し回数を返す
func (d *MockDevice) CancelAutoFocusCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelFocusCalls
}

// SetFlashSupport はテスト用にフラッシュ対応の有無を設定する
func (d *MockDevice) SetFlashSupport(supported bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if supported {
		d.params.SupportedFlashModes = []FlashMode{FlashOff, FlashTorch}
		if d.params.FlashMode == "" {
			d.params.FlashMode = FlashOff
		}
		return
	}
	d.params.SupportedFlashModes = nil
}

// SetShouldFailStartPreview はテスト用にStartPreview失敗を設定する
func (d *MockDevice) SetShouldFailStartPreview(shouldFail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shouldFailStartPreview = shouldFail
}

// SetShouldFailSetParameters はテスト用にSetParameters失敗を設定する
func (d *MockDevice) SetShouldFailSetParameters(shouldFail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shouldFailSetParameters = shouldFail
}

// SetShouldFailAutoFocus はテスト用にAutoFocusの実行時エラーを設定する
func (d *MockDevice) SetShouldFailAutoFocus(shouldFail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shouldFailAutoFocus = shouldFail
}

// SetShouldFailTakePicture はテスト用にTakePicture失敗を設定する
func (d *MockDevice) SetShouldFailTakePicture(shouldFail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shouldFailTakePicture = shouldFail
}

// SetFocusOutcome はオートフォーカスの結果を設定する
func (d *MockDevice) SetFocusOutcome(outcome FocusOutcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focusOutcome = outcome
}

// SetPictureData は撮影結果のバイト列を設定する
func (d *MockDevice) SetPictureData(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pictureData = append([]byte(nil), data...)
}

// SetHoldFocus はオートフォーカスの完了を CompleteFocus まで保留するかを設定する
func (d *MockDevice) SetHoldFocus(hold bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holdFocus = hold
}

// SetHoldPicture は撮影の完了を CompletePicture まで保留するかを設定する
func (d *MockDevice) SetHoldPicture(hold bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holdPicture = hold
}

// CompleteFocus は保留中のオートフォーカスを1件完了させる
func (d *MockDevice) CompleteFocus(outcome FocusOutcome) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pendingFocus) == 0 {
		return false
	}
	ch := d.pendingFocus[0]
	d.pendingFocus = d.pendingFocus[1:]
	ch <- FocusResult{Outcome: outcome}
	return true
}

// CompletePicture は保留中の撮影を1件完了させる
func (d *MockDevice) CompletePicture(result PictureResult) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pendingPicture) == 0 {
		return false
	}
	ch := d.pendingPicture[0]
	d.pendingPicture = d.pendingPicture[1:]
	ch <- result
	return true
}
