// Package v4l2 LinuxのV4L2カメラを device.Backend として提供する
//
// # 責務
// - /dev/video* のスキャンとカメラ名の取得（v4l2-ctl）
// - ffmpegによるMJPEGプレビューストリームと静止画の取得
// - 設定ファイルで定義した向き・取り付け角度のデバイスへの割り当て
//
// # 仕様
//   - 設定にデバイスが無い場合は、スキャン結果の1台目を背面、2台目を前面とする
//   - プレビュー中の撮影はストリームの次のフレームを返す
//   - フラッシュには対応しない
//   - 表示回転角とプレビューサイズは次回のプレビュー開始から反映される
package v4l2
