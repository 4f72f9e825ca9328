package cmd

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

	"github.com/spf13/cobra"
	"github.com/teleprompt2api/api-proxy/internal/config"
	"github.com/teleprompt2api/api-proxy/internal/logger"
	"github.com/teleprompt2api/api-proxy/internal/server"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API proxy server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// 加载或创建配置
	cfg, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 初始化日志
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting teleprompt2api",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.String("default_model", cfg.Models.Default),
		zap.Int("chunk_size", cfg.Stream.ChunkSize),
		zap.Duration("chunk_delay", cfg.Stream.Delay),
	)

	if cfg.Security.AuthDisabled {
		log.Warn("API key authentication is disabled, /v1 is open to anyone who can reach this port")
	} else {
		log.Info("API key authentication enabled",
			zap.String("key_prefix", logger.MaskAPIKey(cfg.Security.APIKey)))
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error("Failed to create server", zap.Error(err))
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// 优雅关闭
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return serve(ctx, httpServer, ln, log)
}

// serve runs httpServer on ln until ctx is done, then drains open
// connections for at most shutdownTimeout.
func serve(ctx context.Context, httpServer *http.Server, ln net.Listener, log *zap.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server started", zap.String("addr", ln.Addr().String()))
		serveErr <- httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log.Error("Server failed", zap.Error(err))
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	log.Info("Server stopped gracefully")
	return nil
}
