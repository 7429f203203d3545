package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/juror/internal/api"
	"github.com/vietddude/juror/internal/control"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API, gRPC health and metrics",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, stop := signalContext()
	defer stop()

	app, err := control.NewApp(ctx, *cfg)
	if err != nil {
		slog.Error("Failed to initialize juror", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	app.StartBackground(ctx)

	httpServer := api.NewServer(app, cfg.Server.Port)
	grpcServer := api.NewGRPCServer(app, cfg.Server.GRPCPort)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(func() error { return grpcServer.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")

		app.Shutdown(10 * time.Second)
		grpcServer.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}
