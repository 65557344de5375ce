package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"streamrelay/internal/api"
	"streamrelay/internal/camera"
	"streamrelay/internal/config"
	"streamrelay/internal/store"
)

// Server はHTTPサーバーとカメラソースのレジストリを管理する構造体
type Server struct {
	config     *config.Config
	logger     zerolog.Logger
	registry   *camera.Registry
	engine     *gin.Engine
	httpServer *http.Server

	// 配信中のリクエストのコンテキストの親をキャンセルする
	cancelBase context.CancelFunc
}

// New は新しいServerインスタンスを作成する
// opener は全てのカメラソースが上流を開くのに使う
func New(cfg *config.Config, st store.Store, opener camera.Opener, logger zerolog.Logger) (*Server, error) {
	swagger, err := api.GetSwagger()
	if err != nil {
		return nil, err
	}

	registry := camera.NewRegistry(opener, cfg.RegistryConfig(), logger)
	handler := &RelayHandler{
		config:      cfg,
		store:       st,
		registry:    registry,
		multiplexer: camera.NewMultiplexer(cfg.Stream, logger),
		swagger:     swagger,
		logger:      logger,
	}

	validator, err := api.RequestValidator(swagger, writeAPIError)
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(recovery(logger), requestLogger(logger), validator)
	api.RegisterHandlersWithOptions(engine, handler, api.GinServerOptions{
		ErrorHandler: writeAPIError,
	})

	baseCtx, cancelBase := context.WithCancel(context.Background())

	return &Server{
		config:   cfg,
		logger:   logger,
		registry: registry,
		engine:   engine,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			BaseContext: func(net.Listener) context.Context {
				return baseCtx
			},
		},
		cancelBase: cancelBase,
	}, nil
}

// Handler はルーティング済みの http.Handler を返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Registry はカメラソースのレジストリを返す
func (s *Server) Registry() *camera.Registry {
	return s.registry
}

// Start はサーバーを起動し、ctx のキャンセルかシグナルを受けるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve は listener でリクエストを受け付ける
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info().Str("addr", listener.Addr().String()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info().Str("signal", sig.String()).Msg("シグナルを受信しました")
	case err := <-shutdownCh:
		s.shutdownCapture()
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
//
// 配信中の視聴者を切断し、HTTPサーバーを停止した後、全てのキャプチャループの終了を待つ。
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	// ストリーミング中のリクエストは自分では終わらないため先にキャンセルする
	s.cancelBase()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("サーバーのシャットダウンに失敗: %w", err))
	}
	if err := s.registry.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("キャプチャの停止に失敗: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.logger.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}

// shutdownCapture はHTTPサーバーが異常終了したときにキャプチャループを止める
func (s *Server) shutdownCapture() {
	s.cancelBase()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := s.registry.Close(ctx); err != nil {
		s.logger.Error().Err(err).Msg("キャプチャの停止に失敗しました")
	}
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.config.Server.ShutdownTimeout > 0 {
		return s.config.Server.ShutdownTimeout
	}
	return 5 * time.Second
}
