package device

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Manager はカメラハンドルのオープンと解放を担う
// 保持できるハンドルは常に1つまで
type Manager struct {
	backend Backend
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	current *Handle
}

// NewManager は新しいManagerを作成する
func NewManager(backend Backend, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		backend: backend,
		logger:  logger,
	}
}

// Devices はバックエンドのカメラ一覧を返す
func (m *Manager) Devices(ctx context.Context) ([]Info, error) {
	return m.backend.Devices(ctx)
}

// Current は保持中のハンドルを返す。保持していなければnil
func (m *Manager) Current() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Open は指定した向きのカメラを開く
// 既に保持しているハンドルがあれば先に解放する
func (m *Manager) Open(ctx context.Context, facing Facing) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.releaseLocked(ctx); err != nil {
		m.logger.Warnw("以前のハンドルの解放に失敗", "error", err)
	}

	infos, err := m.backend.Devices(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "デバイスの列挙に失敗: %v", err)
	}

	for _, info := range infos {
		if info.Facing != facing {
			continue
		}

		dev, err := m.backend.Open(ctx, info.ID)
		if err != nil {
			return nil, errors.Wrapf(ErrDeviceUnavailable, "デバイス %s のオープンに失敗: %v", info.ID, err)
		}

		m.current = newHandle(dev, info)
		m.logger.Debugw("カメラを開きました", "id", info.ID, "facing", facing)
		return m.current, nil
	}

	return nil, errors.Wrapf(ErrDeviceUnavailable, "向き %s のカメラがありません", facing)
}

// Release は保持中のハンドルを解放する
// 保持していない場合は何もしない
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(context.Background())
}

// releaseLocked は進行中のハードウェア操作を止めてからハンドルを閉じる（ロック済み前提）
func (m *Manager) releaseLocked(ctx context.Context) error {
	h := m.current
	if h == nil {
		return nil
	}
	m.current = nil

	if !h.released.CompareAndSwap(false, true) {
		return nil
	}

	err := multierr.Combine(
		h.dev.CancelAutoFocus(),
		h.dev.StopPreview(ctx),
		h.dev.Close(),
	)
	if err != nil {
		return errors.Wrapf(err, "カメラ %s の解放に失敗", h.info.ID)
	}

	m.logger.Debugw("カメラを解放しました", "id", h.info.ID)
	return nil
}

// SupportsFlash はハンドルのデバイスがフラッシュに対応しているかを返す
func (m *Manager) SupportsFlash(h *Handle) bool {
	if h == nil || h.Released() {
		return false
	}

	params, err := h.Parameters()
	if err != nil {
		return false
	}
	if params.FlashMode == "" {
		return false
	}

	for _, mode := range params.SupportedFlashModes {
		if mode != FlashOff {
			return true
		}
	}
	return false
}
