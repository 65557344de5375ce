package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"streamrelay/internal/camera"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig        `yaml:"server"`
	Capture CaptureConfig       `yaml:"capture"`
	Stream  camera.StreamConfig `yaml:"stream"`
	Store   StoreConfig         `yaml:"store"`
	Log     LogConfig           `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // グレースフルシャットダウンの待ち時間
}

// CaptureConfig はキャプチャループの設定
type CaptureConfig struct {
	Backend           string `yaml:"backend"`             // RTSPのデコードバックエンド ("opencv" または "ffmpeg")
	FFmpegPath        string `yaml:"ffmpeg_path"`         // ffmpegバックエンドで使う実行ファイル
	TargetFPS         int    `yaml:"target_fps"`          // デコードの目標フレームレート
	BufferSize        int    `yaml:"buffer_size"`         // カメラごとに保持するフレーム数
	Transport         string `yaml:"transport"`           // RTSPトランスポート
	ReceiveBufferSize int    `yaml:"receive_buffer_size"` // 受信バッファサイズのヒント

	Reconnect   camera.ReconnectPolicy   `yaml:"reconnect"`
	ReadFailure camera.ReadFailurePolicy `yaml:"read_failure"`
}

// StoreConfig はカメラ登録情報の保存先
type StoreConfig struct {
	Path string `yaml:"path"` // SQLiteデータベースファイル
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console または json
}

// バックエンド名
const (
	BackendOpenCV = "opencv"
	BackendFFmpeg = "ffmpeg"
)

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
		},
		Capture: CaptureConfig{
			Backend:           BackendOpenCV,
			FFmpegPath:        "ffmpeg",
			TargetFPS:         30,
			BufferSize:        camera.DefaultBufferSize,
			Transport:         "tcp",
			ReceiveBufferSize: 1 << 20,
			Reconnect:         camera.DefaultReconnectPolicy(),
			ReadFailure:       camera.DefaultReadFailurePolicy(),
		},
		Stream: camera.DefaultStreamConfig(),
		Store: StoreConfig{
			Path: "rtsp_streams.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load は設定を読み込む
// デフォルト値に、STREAMRELAY_CONFIG で指定されたYAMLファイル、環境変数の順で上書きする
func Load() (*Config, error) {
	return LoadFile(os.Getenv("STREAMRELAY_CONFIG"))
}

// LoadFile は path のYAMLファイルから設定を読み込む。path が空の場合はファイルを読まない
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Server.Port = getEnvAsIntOrDefault("SERVER_PORT", c.Server.Port)
	c.Store.Path = getEnvOrDefault("STREAMRELAY_DB", c.Store.Path)
	c.Capture.Backend = getEnvOrDefault("STREAMRELAY_BACKEND", c.Capture.Backend)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// サーバー設定の検証
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}

	// キャプチャ設定の検証
	switch strings.ToLower(c.Capture.Backend) {
	case BackendOpenCV, BackendFFmpeg:
	default:
		errs = append(errs, fmt.Errorf("無効なバックエンド: %q", c.Capture.Backend))
	}
	if c.Capture.TargetFPS <= 0 || c.Capture.TargetFPS > 120 {
		errs = append(errs, fmt.Errorf("無効なFPS値: %d", c.Capture.TargetFPS))
	}
	if c.Capture.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("無効なバッファサイズ: %d", c.Capture.BufferSize))
	}
	if c.Capture.Reconnect.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("無効な再接続回数: %d", c.Capture.Reconnect.MaxRetries))
	}
	if c.Capture.Reconnect.RetryDelay < 0 || c.Capture.Reconnect.MaxRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("無効な再接続間隔: %s (最大 %s)",
			c.Capture.Reconnect.RetryDelay, c.Capture.Reconnect.MaxRetryDelay))
	}
	// 0 以下では degraded にならず、読み取り失敗の間ループが空回りする
	if c.Capture.ReadFailure.MaxConsecutiveFailures <= 0 {
		errs = append(errs, fmt.Errorf("無効な連続失敗回数: %d", c.Capture.ReadFailure.MaxConsecutiveFailures))
	}
	if c.Capture.ReadFailure.FailureBackoff <= 0 {
		errs = append(errs, fmt.Errorf("無効な読み取り失敗時の待ち時間: %s", c.Capture.ReadFailure.FailureBackoff))
	}

	// 配信設定の検証
	if c.Stream.Quality < 1 || c.Stream.Quality > 100 {
		errs = append(errs, fmt.Errorf("無効なJPEG品質: %d", c.Stream.Quality))
	}
	if c.Stream.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("無効なポーリング間隔: %s", c.Stream.PollInterval))
	}
	if c.Stream.Boundary == "" {
		errs = append(errs, errors.New("multipart境界文字列が設定されていません"))
	}
	if c.Stream.SnapshotAttempts < 1 {
		errs = append(errs, fmt.Errorf("無効なスナップショット試行回数: %d", c.Stream.SnapshotAttempts))
	}
	if c.Stream.SnapshotInterval <= 0 {
		errs = append(errs, fmt.Errorf("無効なスナップショット試行間隔: %s", c.Stream.SnapshotInterval))
	}

	if c.Store.Path == "" {
		errs = append(errs, errors.New("データベースのパスが設定されていません"))
	}

	return errors.Join(errs...)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LoopConfig はキャプチャループ用の設定に変換する
func (c *Config) LoopConfig() camera.LoopConfig {
	return camera.LoopConfig{
		TargetFPS: c.Capture.TargetFPS,
		Open: camera.OpenOptions{
			Transport:         c.Capture.Transport,
			ReceiveBufferSize: c.Capture.ReceiveBufferSize,
		},
		Reconnect:   c.Capture.Reconnect,
		ReadFailure: c.Capture.ReadFailure,
	}
}

// RegistryConfig はレジストリ用の設定に変換する
func (c *Config) RegistryConfig() camera.RegistryConfig {
	return camera.RegistryConfig{
		BufferSize: c.Capture.BufferSize,
		Loop:       c.LoopConfig(),
	}
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
