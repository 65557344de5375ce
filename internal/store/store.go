// Package store はカメラIDと接続URLの対応を永続化する
//
// # 責務
// - カメラの登録・更新・削除
// - 起動時のカメラ一覧の提供
//
// キャプチャの状態はここでは扱わない。接続URLの変更をキャプチャに反映するのは
// 呼び出し側（HTTP層）の責務である。
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound は指定されたカメラが登録されていないことを表す
var ErrNotFound = errors.New("カメラが見つかりません")

// Camera は登録されたカメラ
type Camera struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Store はカメラ登録情報の保存先
type Store interface {
	// List は登録順にカメラ一覧を返す
	List(ctx context.Context) ([]Camera, error)

	// Get は id のカメラを返す。存在しない場合は ErrNotFound
	Get(ctx context.Context, id string) (Camera, error)

	// Create は新しいIDでカメラを登録する
	Create(ctx context.Context, rawURL string) (Camera, error)

	// Update は id のカメラの接続URLを更新する
	Update(ctx context.Context, id, rawURL string) (Camera, error)

	// Delete は id のカメラを削除する
	Delete(ctx context.Context, id string) error

	// Close は保存先を閉じる
	Close() error
}

// supportedSchemes は登録を受け付ける接続URLのスキーム
var supportedSchemes = map[string]bool{
	"rtsp":  true,
	"rtsps": true,
	"http":  true,
	"https": true,
	"file":  true,
}

// ValidateURL は接続URLを検証する
func ValidateURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return errors.New("URLが空です")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URLの解析に失敗: %w", err)
	}
	if !supportedSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("サポートされていないスキーム: %q", u.Scheme)
	}
	if u.Scheme != "file" && u.Host == "" {
		return errors.New("ホストが指定されていません")
	}
	return nil
}
