package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"drowsewatch/internal/config"
	"drowsewatch/internal/generated"
	"drowsewatch/internal/metrics"
	"drowsewatch/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Server はローカル操作用のHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	engine     *gin.Engine
	httpServer *http.Server
	controller *session.Controller
	hub        *wsHub

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	listener net.Listener
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, controller *session.Controller, preview PreviewSource, m *metrics.Metrics) (*Server, error) {
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	doc, err := generated.GetSwagger()
	if err != nil {
		return nil, err
	}
	validator, err := openAPIValidator(doc)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:     cfg,
		engine:     gin.New(),
		controller: controller,
		hub:        newWSHub(controller),
		done:       make(chan struct{}),
	}

	s.engine.Use(gin.Recovery(), requestLogger(), validator)

	handler := &MonitorHandler{
		controller: controller,
		preview:    preview,
		done:       s.done,
	}
	generated.RegisterHandlersWithOptions(s.engine, handler, generated.GinServerOptions{
		ErrorHandler: func(c *gin.Context, err error, status int) {
			errorJSON(c, status, "invalid_request", err.Error(), "")
		},
	})

	s.engine.GET("/ws", s.hub.handle)
	s.engine.GET("/metrics", gin.WrapH(m.Handler()))
	s.engine.GET("/", serveIndex)
	s.engine.StaticFS("/assets", GetAssetsFS())

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// Handler はルーティング済みのhttp.Handlerを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr は待ち受け中のアドレスを返す。起動前は設定値を返す
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Start はサーバーを起動し、ctx の終了かシグナル受信までブロックする
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		log.Info().Msg("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("シグナルを受信しました")
	case err := <-shutdownCh:
		if serr := s.Shutdown(); serr != nil {
			log.Warn().Err(serr).Msg("シャットダウンに失敗しました")
		}
		return err
	}

	return s.Shutdown()
}

// Shutdown は監視を停止し、サーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	log.Info().Msg("サーバーをシャットダウンしています...")

	// ストリーミング中のレスポンスを終わらせる
	s.closeOnce.Do(func() { close(s.done) })

	// カメラを解放し、WebSocketの購読を終了する
	if err := s.controller.Close(); err != nil {
		log.Warn().Err(err).Msg("セッションの終了に失敗しました")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	log.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}
