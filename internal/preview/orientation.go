package preview

import "camctl/internal/device"

// previewAspect はプレビュー領域の高さ/幅の比（3:5）
const (
	previewAspectNum = 3
	previewAspectDen = 5
)

// ComputeOrientation はカメラ映像を正立させるための表示回転角を計算する
// mount はセンサーの取り付け角度。前面カメラは鏡像を補正する
func ComputeOrientation(mount int, facing device.Facing, rotation Rotation) int {
	degrees := rotation.Degrees()
	mount = ((mount % 360) + 360) % 360

	if facing == device.FacingFront {
		result := (mount + degrees) % 360
		return (360 - result) % 360
	}
	return (mount - degrees + 360) % 360
}

// PreviewAspectSize は画面幅からプレビュー描画領域の大きさを計算する
func PreviewAspectSize(displayWidth int) device.Size {
	if displayWidth < 0 {
		displayWidth = 0
	}
	return device.Size{
		Width:  displayWidth,
		Height: displayWidth * previewAspectNum / previewAspectDen,
	}
}

// sensorPreviewSize は描画領域の縦横を入れ替えたセンサー側のプレビューサイズ
func sensorPreviewSize(surface device.Size) device.Size {
	return device.Size{Width: surface.Height, Height: surface.Width}
}
