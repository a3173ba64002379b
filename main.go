package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neurosdk/pkg/config"
	"neurosdk/pkg/monitor"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "neurosdk",
	Short: "Neuro game integration SDK tools",
	Long: `neurosdk connects games to a Neuro-style controller over websocket.
It ships a tic-tac-toe demo, a mock controller ("randy") and an action manifest validator.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// 所有子指令共用的參數
	rootCmd.PersistentFlags().String("config", "", "Config file (.json, .toml or .yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
}

// loadConfig 讀取設定檔並初始化日誌
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	monitor.SetupSlog(cfg.LogLevel)
	return cfg, nil
}

// signalContext 在收到 SIGINT / SIGTERM 時取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// serveMetrics 在獨立的 port 上提供 prometheus metrics，直到 ctx 結束
func serveMetrics(ctx context.Context, addr string, metrics *monitor.Metrics) {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
