// Package api は HTTP API の型とルーティングを定義する
//
// openapi.yaml を正とし、型・ServerInterface・パスパラメータのバインドは
// oapi-codegen の gin サーバー出力と同じ形に揃えている。
// openapi.yaml を変更した場合はこのパッケージの型も合わせて更新すること。
//
// 責務:
//   - APIの型定義
//   - ServerInterface とルート登録
//   - 埋め込みOpenAPIドキュメントの読み込み
//   - OpenAPIドキュメントに基づくリクエスト検証
package api
