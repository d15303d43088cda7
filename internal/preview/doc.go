// Package preview カメラデバイスと描画サーフェスを結び付け、プレビューのライフサイクルを制御する
//
// # 責務
// - idle → bound → previewing → stopped → idle の状態遷移
// - サーフェスの作成・変更・破棄通知への対応
// - 表示回転に応じたカメラ表示角の計算と適用
// - オートフォーカス→撮影ループの自己再スケジュール
// - フラッシュ（トーチ）の切り替え
//
// # 仕様
//   - Controller は専用のゴルーチン（所有スレッド）を1つ持ち、公開操作・サーフェス通知・
//     ハードウェアの完了通知をすべてそのゴルーチン上で直列に処理する
//   - キャンセルは協調的で、予約済みのフォーカス試行や遅れて届いた完了通知は
//     実行時に状態を再確認し、条件を満たさなければ何もしない
//   - 呼び出し側に失敗を返すのは StartCamera / SetFacing / Capture のみで、
//     フォーカスループ内の失敗はログに残して握りつぶす
package preview
