package preview

import "camctl/internal/device"

// setFlash はデバイスのフラッシュモードを切り替える
// 現在のモードと同じなら何もしない
func (c *Controller) setFlash(on bool) {
	if c.dev == nil || !c.devices.SupportsFlash(c.dev) {
		return
	}

	params, err := c.dev.Parameters()
	if err != nil {
		return
	}

	want := device.FlashOff
	if on {
		want = device.FlashTorch
	}
	if params.FlashMode == want {
		return
	}

	params.FlashMode = want
	if err := c.dev.SetParameters(c.ctx, params); err != nil {
		c.logger.Debugw("フラッシュの切り替えに失敗", "mode", want, "error", err)
	}
}
