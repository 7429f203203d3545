// Package jury implements the remote case service over its HTTP API.
package jury

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vietddude/juror/internal/core/domain"
	"github.com/vietddude/juror/internal/core/session"
	"github.com/vietddude/juror/internal/voting/metrics"
)

const (
	DefaultBaseURL   = "https://api.bilibili.com"
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	originURL  = "https://www.bilibili.com"
	judgeURL   = "https://www.bilibili.com/judgement/"
	maxBodyLog = 256
)

// Config holds client settings.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// Client talks to the jury endpoints on behalf of one session.
type Client struct {
	baseURL    string
	userAgent  string
	sess       *session.Session
	csrf       string
	httpClient *http.Client
}

// NewClient creates a client. The session must carry the CSRF credential.
func NewClient(cfg Config, sess *session.Session) (*Client, error) {
	csrf, err := sess.CSRF()
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		sess:      sess,
		csrf:      csrf,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// NextCase pulls the next case to vote on.
func (c *Client) NextCase(ctx context.Context) (string, error) {
	var data nextCaseData
	q := url.Values{"csrf": {c.csrf}}
	if err := c.get(ctx, "case/next", "x/credit/v2/jury/case/next", q, judgeURL+"index", &data); err != nil {
		return "", err
	}
	return data.CaseID, nil
}

// CaseDetail fetches a case and its vote options.
func (c *Client) CaseDetail(ctx context.Context, caseID string) (*domain.Case, error) {
	var data caseInfoData
	q := url.Values{"case_id": {caseID}}
	if err := c.get(ctx, "case/info", "x/credit/v2/jury/case/info", q, caseReferer(caseID), &data); err != nil {
		return nil, err
	}
	return &domain.Case{ID: caseID, Options: data.VoteItems}, nil
}

// Opinions fetches the first page of peer opinions on a case.
func (c *Client) Opinions(ctx context.Context, caseID string) ([]domain.Opinion, error) {
	var data opinionData
	q := url.Values{"case_id": {caseID}, "pn": {"1"}, "ps": {"20"}}
	if err := c.get(ctx, "case/opinion", "x/credit/v2/jury/case/opinion", q, caseReferer(caseID), &data); err != nil {
		return nil, err
	}

	opinions := make([]domain.Opinion, 0, len(data.List))
	for _, item := range data.List {
		opinions = append(opinions, item.toDomain())
	}
	return opinions, nil
}

// Vote submits a ballot.
func (c *Client) Vote(ctx context.Context, b domain.Ballot) error {
	form := url.Values{
		"case_id":   {b.CaseID},
		"vote":      {strconv.Itoa(b.Vote)},
		"insiders":  {strconv.Itoa(b.Insiders)},
		"anonymous": {strconv.Itoa(b.Anonymous)},
		"csrf":      {c.csrf},
	}
	return c.post(ctx, "vote", "x/credit/v2/jury/vote", form, caseReferer(b.CaseID), nil)
}

// ApplyEligibility applies for the juror qualification.
func (c *Client) ApplyEligibility(ctx context.Context) error {
	form := url.Values{"csrf": {c.csrf}}
	return c.post(ctx, "apply", "x/credit/v2/jury/apply", form, judgeURL, nil)
}

// JurorInfo fetches the account's juror status.
func (c *Client) JurorInfo(ctx context.Context) (*JurorInfo, error) {
	var info JurorInfo
	if err := c.get(ctx, "jury", "x/credit/v2/jury/jury", nil, judgeURL, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func caseReferer(caseID string) string {
	return judgeURL + "case-detail/" + caseID
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, referer string, out any) error {
	u := c.baseURL + "/" + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.NewTransientError(op, "create request", err, "")
	}
	return c.do(req, op, referer, out)
}

func (c *Client) post(ctx context.Context, op, path string, form url.Values, referer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.NewTransientError(op, "create request", err, "")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, op, referer, out)
}

func (c *Client) do(req *http.Request, op, referer string, out any) error {
	start := time.Now()
	err := c.roundTrip(req, op, referer, out)
	metrics.RemoteLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	result := "ok"
	if err != nil {
		result = "error"
		if _, ok := domain.CodeOf(err); ok {
			result = "code"
		}
	}
	metrics.RemoteCalls.WithLabelValues(op, result).Inc()
	return err
}

func (c *Client) roundTrip(req *http.Request, op, referer string, out any) error {
	req.Header.Set("Cookie", c.sess.Header())
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Origin", originURL)
	req.Header.Set("Referer", referer)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewTransientError(op, "request failed", err, "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewTransientError(op, "read response", err, resp.Status)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.NewTransientError(op, fmt.Sprintf("http %d", resp.StatusCode), nil,
			resp.Status+": "+excerpt(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.NewTransientError(op, "parse response", err, excerpt(body))
	}
	if env.Code != 0 {
		return domain.NewClassifiedError(op, domain.ResponseCode(env.Code), env.Message)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return domain.NewTransientError(op, "parse data", err, excerpt(env.Data))
	}
	return nil
}

// excerpt shortens a body for logging without splitting a rune.
func excerpt(b []byte) string {
	if len(b) <= maxBodyLog {
		return string(b)
	}
	cut := maxBodyLog
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut]) + "..."
}
