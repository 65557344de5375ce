package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // database/sql ドライバ "sqlite"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS rtsp_streams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	camera_id TEXT NOT NULL UNIQUE,
	rtsp_url TEXT NOT NULL
)`
	listCamerasSQL  = `SELECT camera_id, rtsp_url FROM rtsp_streams ORDER BY id`
	getCameraSQL    = `SELECT camera_id, rtsp_url FROM rtsp_streams WHERE camera_id = ?`
	insertCameraSQL = `INSERT INTO rtsp_streams (camera_id, rtsp_url) VALUES (?, ?)`
	updateCameraSQL = `UPDATE rtsp_streams SET rtsp_url = ? WHERE camera_id = ?`
	deleteCameraSQL = `DELETE FROM rtsp_streams WHERE camera_id = ?`
)

// SQLiteStore は SQLite に保存する Store の実装
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite は path のデータベースを開き、テーブルがなければ作成する
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("データベースのオープンに失敗: %w", err)
	}
	// SQLiteは書き込みを直列化するため接続は1本で十分
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("テーブルの作成に失敗: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// List は登録順にカメラ一覧を返す
func (s *SQLiteStore) List(ctx context.Context) ([]Camera, error) {
	rows, err := s.db.QueryContext(ctx, listCamerasSQL)
	if err != nil {
		return nil, fmt.Errorf("カメラ一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	cameras := []Camera{}
	for rows.Next() {
		var cam Camera
		if err := rows.Scan(&cam.ID, &cam.URL); err != nil {
			return nil, fmt.Errorf("カメラ情報の読み込みに失敗: %w", err)
		}
		cameras = append(cameras, cam)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カメラ一覧の取得に失敗: %w", err)
	}
	return cameras, nil
}

// Get は id のカメラを返す
func (s *SQLiteStore) Get(ctx context.Context, id string) (Camera, error) {
	var cam Camera
	err := s.db.QueryRowContext(ctx, getCameraSQL, id).Scan(&cam.ID, &cam.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return Camera{}, ErrNotFound
	}
	if err != nil {
		return Camera{}, fmt.Errorf("カメラ %s の取得に失敗: %w", id, err)
	}
	return cam, nil
}

// Create は新しいUUIDでカメラを登録する
func (s *SQLiteStore) Create(ctx context.Context, rawURL string) (Camera, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := ValidateURL(rawURL); err != nil {
		return Camera{}, err
	}

	cam := Camera{
		ID:  uuid.New().String(),
		URL: rawURL,
	}
	if _, err := s.db.ExecContext(ctx, insertCameraSQL, cam.ID, cam.URL); err != nil {
		return Camera{}, fmt.Errorf("カメラの登録に失敗: %w", err)
	}
	return cam, nil
}

// Update は id のカメラの接続URLを更新する
func (s *SQLiteStore) Update(ctx context.Context, id, rawURL string) (Camera, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := ValidateURL(rawURL); err != nil {
		return Camera{}, err
	}

	result, err := s.db.ExecContext(ctx, updateCameraSQL, rawURL, id)
	if err != nil {
		return Camera{}, fmt.Errorf("カメラ %s の更新に失敗: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return Camera{}, ErrNotFound
	}
	return Camera{ID: id, URL: rawURL}, nil
}

// Delete は id のカメラを削除する
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, deleteCameraSQL, id)
	if err != nil {
		return fmt.Errorf("カメラ %s の削除に失敗: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close はデータベースを閉じる
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
