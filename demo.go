package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"neurosdk/pkg/api"
	"neurosdk/pkg/demo"
	"neurosdk/pkg/monitor"
	"neurosdk/pkg/sdk"

	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Play tic-tac-toe against the controller",
	Long: `Connects to the controller and plays tic-tac-toe: you play X from the terminal,
the controller plays O through a forced "play" action.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().String("url", "", "Controller websocket URL (default from config or $NEURO_SDK_WS_URL)")
	demoCmd.Flags().String("game", "Tic Tac Toe", "Game name sent to the controller")
	demoCmd.Flags().String("actions", "", "Action manifest registered next to the game and reloaded on change")
	demoCmd.Flags().Bool("monitor", false, "Print every protocol frame to stderr")
	rootCmd.AddCommand(demoCmd)
}

// gameEvents 把連線事件轉成日誌，並轉送 controller 的關機要求
type gameEvents struct {
	api.NopListener
	shutdown chan bool
}

func (l *gameEvents) OnStateChanged(connID string, state api.ConnectionState) {
	slog.Info("Connection state", "conn", connID, "state", state)
}

func (l *gameEvents) OnContext(_ string, text string, silent bool) {
	slog.Info("Controller says", "message", text, "silent", silent)
}

func (l *gameEvents) OnShutdownRequested(_ string, graceful, wants bool) {
	if !wants {
		return
	}
	select {
	case l.shutdown <- graceful:
	default:
	}
}

func runDemo(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	monitor.PrintBanner()

	ctx, stop := signalContext()
	defer stop()

	game, _ := cmd.Flags().GetString("game")
	if cmd.Flags().Changed("game") {
		cfg.Game = game
	}
	events := &gameEvents{shutdown: make(chan bool, 1)}
	metrics := monitor.NewMetrics()

	b := sdk.NewBuilder(game).
		WithConfig(cfg).
		WithFeatures(api.FeatureShutdown).
		WithListener(events, metrics)
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		b.WithURL(url)
	}
	mons := monitor.Multi{metrics}
	if verbose, _ := cmd.Flags().GetBool("monitor"); verbose {
		mons = append(mons, monitor.NewCLIMonitorTo(os.Stderr))
	}
	b.WithMonitor(mons)

	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, cfg.MetricsAddr, metrics)
	}

	// --- 1. 連線 ---
	client, err := b.Build(ctx)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", b.URL(), err)
	}
	defer client.Close(context.Background())

	// --- 2. 額外的 actions (可熱更新) ---
	manifest, _ := cmd.Flags().GetString("actions")
	if manifest == "" {
		manifest = cfg.ActionsFile
	}
	if manifest != "" {
		extras := demo.NewExtras(client, manifest, slog.Default())
		if err := extras.Load(ctx); err != nil {
			return fmt.Errorf("load actions: %w", err)
		}
		go extras.Watch(ctx)
	}

	// --- 3. 開始遊戲 ---
	type outcome struct {
		winner demo.Mark
		err    error
	}
	done := make(chan outcome, 1)
	g := demo.NewGame(client, os.Stdin, os.Stdout, slog.Default())
	go func() {
		winner, err := g.Run(ctx)
		done <- outcome{winner, err}
	}()

	// 等待遊戲結束、信號或 controller 要求關機
	select {
	case res := <-done:
		if res.err != nil && !errors.Is(res.err, context.Canceled) {
			return fmt.Errorf("game: %w", res.err)
		}
		if res.winner == demo.X {
			fmt.Println("🎉 You won!")
		}
	case graceful := <-events.shutdown:
		slog.Info("Controller asked to shut down", "graceful", graceful)
		if err := client.SendShutdownReady(ctx); err != nil {
			slog.Warn("Failed to acknowledge shutdown", "error", err)
		}
	case <-ctx.Done():
		fmt.Println("\nReceived shutdown signal. Stopping...")
	case <-client.Done():
		return fmt.Errorf("controller disconnected: %w", client.Err())
	}

	fmt.Println("Bye!")
	return nil
}
