// Package server は HTTP サーバーとAPIハンドラを管理します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - api.ServerInterface の実装（カメラ登録APIとMJPEG配信）
//   - カメラ登録情報（store）とキャプチャ（camera.Registry）の橋渡し
//
// 仕様:
//   - ルーティングは gin、ルート定義は internal/api に従う
//   - JSON API のリクエストは OpenAPI ドキュメントで検証する
//   - ストリーミングのため WriteTimeout は 0 を前提とする
//   - シャットダウン時は配信中の視聴者を切断してからキャプチャループを停止する
package server
