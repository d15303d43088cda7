package preview

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"camctl/internal/device"
)

// MemorySurface は最新のプレビューフレームをメモリに保持するSurface実装
// Create / Change / Destroy で登録済みのリスナーにライフサイクルを通知する
type MemorySurface struct {
	mu        sync.RWMutex
	listeners []SurfaceListener
	size      device.Size
	frame     []byte
	created   bool

	frames atomic.Int64
}

// NewMemorySurface は新しいMemorySurfaceを作成する
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{}
}

// Register はリスナーを登録する
func (s *MemorySurface) Register(listener SurfaceListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.listeners {
		if l == listener {
			return
		}
	}
	s.listeners = append(s.listeners, listener)
}

// Unregister はリスナーの登録を解除する
func (s *MemorySurface) Unregister(listener SurfaceListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, l := range s.listeners {
		if l == listener {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Resize は描画領域の大きさを記録する
func (s *MemorySurface) Resize(size device.Size) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = size
}

// DrawFrame は最新フレームを差し替える
func (s *MemorySurface) DrawFrame(frame []byte) error {
	s.mu.Lock()
	s.frame = append(s.frame[:0], frame...)
	s.mu.Unlock()

	s.frames.Inc()
	return nil
}

// Frame は最新フレームのコピーを返す
func (s *MemorySurface) Frame() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.frame) == 0 {
		return nil, false
	}
	return append([]byte(nil), s.frame...), true
}

// FrameCount はこれまでに描画されたフレーム数を返す
func (s *MemorySurface) FrameCount() int64 {
	return s.frames.Load()
}

// Size は描画領域の大きさを返す
func (s *MemorySurface) Size() device.Size {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// IsCreated はサーフェスが作成済みかを返す
func (s *MemorySurface) IsCreated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.created
}

// ListenerCount は登録済みのリスナー数を返す
func (s *MemorySurface) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// Create はサーフェスを作成済みにしてリスナーへ通知する
func (s *MemorySurface) Create(ctx context.Context) error {
	listeners := s.setCreated(true)

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.SurfaceCreated(ctx))
	}
	return err
}

// Change はサーフェスの変更をリスナーへ通知する
func (s *MemorySurface) Change(ctx context.Context, format, width, height int) error {
	s.mu.RLock()
	listeners := append([]SurfaceListener(nil), s.listeners...)
	s.mu.RUnlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.SurfaceChanged(ctx, format, width, height))
	}
	return err
}

// Destroy はサーフェスを破棄してリスナーへ通知する
func (s *MemorySurface) Destroy(ctx context.Context) error {
	listeners := s.setCreated(false)

	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.SurfaceDestroyed(ctx))
	}
	return err
}

func (s *MemorySurface) setCreated(created bool) []SurfaceListener {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.created = created
	return append([]SurfaceListener(nil), s.listeners...)
}

// StaticDisplay は設定値で回転と幅を返すDisplay実装
type StaticDisplay struct {
	mu       sync.RWMutex
	rotation Rotation
	width    int
}

// NewStaticDisplay は新しいStaticDisplayを作成する
func NewStaticDisplay(rotation Rotation, width int) *StaticDisplay {
	return &StaticDisplay{rotation: rotation, width: width}
}

// Rotation は現在の回転を返す
func (d *StaticDisplay) Rotation() Rotation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rotation
}

// Width は画面の幅を返す
func (d *StaticDisplay) Width() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.width
}

// SetRotation は回転を変更する
func (d *StaticDisplay) SetRotation(rotation Rotation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rotation = rotation
}
