package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/juror/internal/control"
	"github.com/vietddude/juror/internal/core/session"
	"github.com/vietddude/juror/internal/infra/jury"
)

var historyLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the juror status of the configured account",
	Run:   runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs and submitted votes",
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of entries to show")
	rootCmd.AddCommand(statusCmd, historyCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := jury.NewClient(cfg.Client, session.Parse(cfg.Session.Cookie))
	if err != nil {
		slog.Error("Failed to create jury client", "error", err)
		os.Exit(1)
	}
	info, err := client.JurorInfo(ctx)
	if err != nil {
		slog.Error("Failed to fetch juror info", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "NAME\tCASES\tTERM END\tSTATUS")
	termEnd := "-"
	if info.TermEnd > 0 {
		termEnd = time.Unix(info.TermEnd, 0).Format(time.DateOnly)
	}
	_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\n", info.Name, info.CaseTotal, termEnd, info.Status)
	_ = w.Flush()
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	app, err := control.NewApp(ctx, *cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	runs, err := app.History(ctx, historyLimit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RUN\tACCOUNT\tOUTCOME\tVOTES\tFINISHED")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.RunID, r.Account, r.Outcome, r.Votes(), r.FinishedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
	fmt.Println()

	votes, err := app.RecentVotes(ctx, historyLimit)
	if err != nil {
		slog.Error("Failed to list votes", "error", err)
		os.Exit(1)
	}

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CASE\tVOTE\tSOURCE\tAUTHOR\tVOTED")
	for _, v := range votes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			v.CaseID, v.Label, v.Source, v.Author, v.VotedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
