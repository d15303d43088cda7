package v4l2

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camctl/internal/config"
	"camctl/internal/device"
)

// 設定が無い場合に使う既定の解像度
const (
	defaultWidth  = 640
	defaultHeight = 480
	defaultFPS    = 30
)

// entry はバックエンドが把握しているカメラ1台分の情報
type entry struct {
	info device.Info
	path string
	fps  int
}

// Backend はV4L2デバイスを扱う device.Backend 実装
type Backend struct {
	discovery *Discovery
	configs   []config.CameraDevice
	logger    *zap.SugaredLogger

	mu     sync.Mutex
	opened map[string]bool
}

// NewBackend は新しいBackendを作成する
// configs が空の場合はデバイスをスキャンし、1台目を背面、2台目を前面として扱う
func NewBackend(configs []config.CameraDevice, discovery *Discovery, logger *zap.SugaredLogger) *Backend {
	if discovery == nil {
		discovery = NewDiscovery()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Backend{
		discovery: discovery,
		configs:   configs,
		logger:    logger,
		opened:    make(map[string]bool),
	}
}

// Devices はカメラを列挙する
func (b *Backend) Devices(ctx context.Context) ([]device.Info, error) {
	entries, err := b.entries(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]device.Info, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, e.info)
	}
	return infos, nil
}

// Open は指定したIDのデバイスを開く
func (b *Backend) Open(ctx context.Context, id string) (device.Device, error) {
	entries, err := b.entries(ctx)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.info.ID != id {
			continue
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.opened[id] {
			return nil, errors.Errorf("デバイス %s は既に開かれています", id)
		}
		if !b.discovery.IsDeviceAvailable(ctx, e.path) {
			return nil, errors.Errorf("デバイスが利用できません: %s", e.path)
		}
		b.opened[id] = true

		b.logger.Infow("V4L2デバイスを開きました", "id", id, "device", e.path)
		return newDevice(e, b.logger, func() { b.release(id) }), nil
	}
	return nil, errors.Errorf("デバイスが見つかりません: %s", id)
}

func (b *Backend) release(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.opened, id)
}

func (b *Backend) entries(ctx context.Context) ([]entry, error) {
	if len(b.configs) > 0 {
		return configEntries(b.configs), nil
	}

	paths, err := b.discovery.ScanDevices(ctx)
	if err != nil {
		return nil, err
	}
	return b.scannedEntries(ctx, paths), nil
}

// configEntries は設定ファイルのデバイス定義をエントリに変換する
func configEntries(configs []config.CameraDevice) []entry {
	entries := make([]entry, 0, len(configs))
	for _, c := range configs {
		facing, err := device.ParseFacing(c.Facing)
		if err != nil {
			// 検証済みの設定のみ渡される
			continue
		}
		entries = append(entries, entry{
			info: device.Info{
				ID:          c.ID,
				Name:        displayName(c.Name, c.Device),
				Facing:      facing,
				Orientation: c.Orientation,
			},
			path: c.Device,
			fps:  c.FPS,
		})
	}
	return entries
}

// scannedEntries はスキャン結果をエントリに変換する。向きの情報が無いので先頭2台に割り当てる
func (b *Backend) scannedEntries(ctx context.Context, paths []string) []entry {
	facings := []device.Facing{device.FacingBack, device.FacingFront}

	var entries []entry
	for i, path := range paths {
		if i >= len(facings) {
			break
		}
		entries = append(entries, entry{
			info: device.Info{
				ID:     filepath.Base(path),
				Name:   displayName(b.discovery.DeviceName(ctx, path), path),
				Facing: facings[i],
			},
			path: path,
		})
	}
	return entries
}
