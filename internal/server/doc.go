// Package server は、プレビューコントローラーを操作するHTTPブリッジを提供します。
//
// このパッケージは、カメラの開始・停止・向きの切り替え・フラッシュ・撮影と、
// サーフェスのライフサイクル通知をHTTP経由で受け付けます。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - リクエストをコントローラーの操作とサーフェス通知に変換する
//   - 最新のプレビューフレームとフォーカスループの静止画の配信
//   - プレビューフレームのMJPEGストリーミング
//
// 仕様:
//   - ginを使用
//   - エラーは ErrorResponse で返し、デバイス利用不可は503、パラメーター拒否は422、
//     プレビュー状態の競合は409、入力不正は400とする
//   - 操作系のエンドポイントは処理後のコントローラーの状態を返す
package server
