package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/juror/internal/control"
	"github.com/vietddude/juror/internal/core/config"
	"github.com/vietddude/juror/internal/core/domain"
)

var (
	cfgPath string
	isDebug bool
	cookie  string
	async   bool
)

var rootCmd = &cobra.Command{
	Use:   "juror",
	Short: "Automated jury case voting",
	Long: `Juror fetches pending jury cases for an account, decides on a vote from
peer opinions or a configured fallback, and submits it until the daily
quota is done or the error budget runs out.`,
	Run: runJuror,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&cookie, "cookie", "", "session cookie, overrides session.cookie")
	rootCmd.Flags().BoolVar(&async, "async", false, "run detached and only log the result")
}

// loadConfig reads .env and the config file, then sets up logging.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	if cookie != "" {
		cfg.Session.Cookie = cookie
	}
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runJuror(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, stop := signalContext()
	defer stop()

	app, err := control.NewApp(ctx, *cfg)
	if err != nil {
		slog.Error("Failed to initialize juror", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if async || cfg.Jury.Async {
		runDetached(ctx, app, cfg.Session.Cookie)
		return
	}

	res, err := app.Run(ctx, cfg.Session.Cookie)
	if err != nil {
		slog.Error("Failed to start jury run", "error", err)
		os.Exit(2)
	}
	printSummary(res)
	if res.Outcome == domain.OutcomeFailure {
		os.Exit(1)
	}
}

// runDetached starts the run in the background and keeps the process alive
// until it finishes or a signal arrives.
func runDetached(ctx context.Context, app *control.App, cookie string) {
	h, err := app.Start(ctx, cookie)
	if err != nil {
		slog.Error("Failed to start jury run", "error", err)
		os.Exit(2)
	}
	slog.Info("Jury run started in background", "run", h.ID())

	select {
	case <-h.Done():
	case <-ctx.Done():
		slog.Info("Received signal, shutting down...")
		h.Shutdown(15 * time.Second)
	}
}

func printSummary(res domain.RunResult) {
	fmt.Printf("run %s: %s (%s)\n", res.RunID, res.Outcome, res.Reason)
	fmt.Printf("  votes: %d opinion, %d fallback\n", res.OpinionVotes, res.FallbackVotes)
	fmt.Printf("  iterations: %d, budget left: %d, took %s\n",
		res.Iterations, res.BudgetRemaining, res.Duration().Round(time.Second))
	if res.Err != nil {
		fmt.Printf("  error: %v\n", res.Err)
	}
}
