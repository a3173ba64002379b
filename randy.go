package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"neurosdk/pkg/controller"
	"neurosdk/pkg/monitor"

	"github.com/spf13/cobra"
)

var randyCmd = &cobra.Command{
	Use:   "randy",
	Short: "Run a mock controller that plays forced actions at random",
	Long: `Starts a websocket controller for local game development. Games connect to ws://<listen>/,
forced actions are answered with a random candidate and random valid parameters.
HTTP routes under /sessions inspect games and trigger actions manually.`,
	RunE: runRandy,
}

func init() {
	randyCmd.Flags().String("listen", "", "Listen address (default from config, localhost:8000)")
	randyCmd.Flags().Uint64("seed", 0, "Random seed, 0 picks one")
	randyCmd.Flags().Duration("delay", 0, "Wait before answering a force")
	randyCmd.Flags().Int("retries", 3, "Attempts per force when the game rejects an action")
	randyCmd.Flags().Bool("object-data", false, "Send action parameters as a JSON object instead of a string")
	randyCmd.Flags().Bool("quiet", false, "Do not print protocol frames")
	rootCmd.AddCommand(randyCmd)
}

func runRandy(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	monitor.PrintBanner()

	addr, _ := cmd.Flags().GetString("listen")
	if addr == "" {
		addr = cfg.ListenAddr
	}
	seed, _ := cmd.Flags().GetUint64("seed")
	delay, _ := cmd.Flags().GetDuration("delay")
	retries, _ := cmd.Flags().GetInt("retries")
	objectData, _ := cmd.Flags().GetBool("object-data")
	quiet, _ := cmd.Flags().GetBool("quiet")

	opts := []controller.Option{
		controller.WithLogger(slog.Default()),
		controller.WithMetrics(monitor.NewMetrics()),
		controller.WithDelay(delay),
		controller.WithRetries(retries),
		controller.WithStringData(!objectData),
	}
	if seed != 0 {
		opts = append(opts, controller.WithSeed(seed))
	}
	if !quiet {
		cli := monitor.NewCLIMonitor()
		if err := cli.Start(); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
		opts = append(opts, controller.WithMonitor(cli))
	}
	ctrl := controller.NewServer(opts...)

	srv := &http.Server{
		Addr:              addr,
		Handler:           ctrl.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signalContext()
	defer stop()

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("Randy is listening", "ws", "ws://"+addr+"/", "metrics", "http://"+addr+"/metrics")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		fmt.Println("\nReceived shutdown signal. Stopping services...")
	}

	// 先斷開遊戲連線，websocket handler 才會結束
	if err := ctrl.CloseAll(); err != nil {
		slog.Warn("Failed to close sessions", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Println("Bye!")
	return nil
}
