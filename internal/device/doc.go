// Package device 物理カメラデバイスのハンドル管理を担う
//
// # 責務
// - 向き（front/back）を指定したカメラデバイスのオープンと解放
// - 同時に保持できるハンドルを1つに制限する
// - フラッシュ対応などのデバイス能力の問い合わせ
//
// # 仕様
//   - Manager: Backend からデバイスを選び、ハンドルを排他的に所有する
//   - Handle: 解放後の操作はすべて ErrHandleReleased を返す
//   - Backend: 実ハードウェア（V4L2など）やシミュレーターの差し替え口
//   - 2段階の操作（オートフォーカス・撮影）は結果チャンネルで完了を通知する
//
// # 制約
// ハンドルを1つしか保持しないのは意図的な単純化であり、プールではない。
// 別の向きを Open すると、保持中のハンドルは先に解放される。
package device
