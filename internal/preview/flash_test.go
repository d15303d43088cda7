package preview

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camctl/internal/device"
)

func TestSetFlash_AppliesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	dev := f.backend.Device("back")
	dev.SetFlashSupport(true)

	require.NoError(t, f.ctrl.StartCamera(ctx, device.FacingBack))
	base := dev.SetParametersCalls()

	require.NoError(t, f.ctrl.SetFlash(ctx, true))
	require.NoError(t, f.ctrl.SetFlash(ctx, true))
	assert.Equal(t, base+1, dev.SetParametersCalls(), "同じ状態への切り替えは適用しない")
	assert.Equal(t, device.FlashTorch, f.snapshot(t).Flash)

	require.NoError(t, f.ctrl.SetFlash(ctx, false))
	require.NoError(t, f.ctrl.SetFlash(ctx, false))
	assert.Equal(t, base+2, dev.SetParametersCalls())
	assert.Equal(t, device.FlashOff, f.snapshot(t).Flash)
}

func TestSetFlash_Unsupported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	dev := f.backend.Device("back")

	require.NoError(t, f.ctrl.StartCamera(ctx, device.FacingBack))
	base := dev.SetParametersCalls()

	require.NoError(t, f.ctrl.SetFlash(ctx, true))
	assert.Equal(t, base, dev.SetParametersCalls())
	assert.Equal(t, device.FlashOff, f.snapshot(t).Flash)
}

func TestSetFlash_WithoutDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	dev := f.backend.Device("back")
	dev.SetFlashSupport(true)

	require.NoError(t, f.ctrl.SetFlash(ctx, true))
	assert.Equal(t, 0, dev.SetParametersCalls())
	assert.Equal(t, StateIdle, f.snapshot(t).State)
}

func TestSetFlash_RejectedIsSilent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	dev := f.backend.Device("back")
	dev.SetFlashSupport(true)

	require.NoError(t, f.ctrl.StartCamera(ctx, device.FacingBack))
	dev.SetShouldFailSetParameters(true)

	require.NoError(t, f.ctrl.SetFlash(ctx, true))
	snap := f.snapshot(t)
	assert.Equal(t, StatePreviewing, snap.State)
	assert.Equal(t, device.FlashOff, snap.Flash)
}
