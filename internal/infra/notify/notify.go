package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vietddude/juror/internal/core/domain"
	"github.com/vietddude/juror/internal/voting/metrics"
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("notify: webhook not configured")

// Config holds completion webhook settings.
type Config struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Notifier posts a run summary to a webhook once a run finishes.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a webhook notifier.
func NewNotifier(cfg Config) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		webhookURL: cfg.WebhookURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// Summary is the webhook payload.
type Summary struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`

	Run domain.RunResult `json:"run"`
}

// NewSummary renders a finished run.
func NewSummary(run domain.RunResult) Summary {
	s := Summary{
		Title: fmt.Sprintf("Jury run %s: %s", run.Account, run.Outcome),
		Message: fmt.Sprintf("%d cases resolved (%d by opinion, %d by fallback) in %s",
			run.Votes(), run.OpinionVotes, run.FallbackVotes, run.Duration().Round(time.Second)),
		Level: levelFor(run.Outcome),
		Run:   run,
	}
	if run.Reason != "" {
		s.Message += ", reason: " + run.Reason
	}
	return s
}

// Notify sends the run summary.
func (n *Notifier) Notify(ctx context.Context, run domain.RunResult) error {
	if n.webhookURL == "" {
		return ErrNotConfigured
	}

	err := n.send(ctx, NewSummary(run))
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Notifications.WithLabelValues(result).Inc()
	return err
}

func (n *Notifier) send(ctx context.Context, s Summary) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("notify marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notify webhook %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func levelFor(o domain.Outcome) string {
	switch o {
	case domain.OutcomeSuccess:
		return "success"
	case domain.OutcomePartial, domain.OutcomeTerminated:
		return "warning"
	default:
		return "error"
	}
}
