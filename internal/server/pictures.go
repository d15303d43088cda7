package server

import (
	"sync"
	"time"

	"camctl/internal/device"
)

// PictureStore はフォーカスループで撮影された最新の静止画を保持する
type PictureStore struct {
	mu      sync.RWMutex
	data    []byte
	takenAt time.Time
	count   int
}

// NewPictureStore は新しいPictureStoreを作成する
func NewPictureStore() *PictureStore {
	return &PictureStore{}
}

// Store は撮影結果を保存する。preview.Config.OnPicture に渡して使う
func (p *PictureStore) Store(result device.PictureResult) {
	if result.Err != nil || len(result.Data) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.data = append([]byte(nil), result.Data...)
	p.takenAt = time.Now()
	p.count++
}

// Latest は最新の静止画と撮影時刻を返す
func (p *PictureStore) Latest() ([]byte, time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.data == nil {
		return nil, time.Time{}, false
	}
	return append([]byte(nil), p.data...), p.takenAt, true
}

// Count はこれまでに保存した枚数を返す
func (p *PictureStore) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.count
}
