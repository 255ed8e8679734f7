package mailclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/boxkeep/boxkeep/internal/resilience"
	"github.com/boxkeep/boxkeep/pkg/httpclient"
)

// RESTConfig holds configuration for the REST mail-gateway backend.
type RESTConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	SkipTLS bool
	Logger  *slog.Logger
}

// RESTClient talks to an HTTP mail gateway. Failures are classified into the
// resilience taxonomy, including the gateway's Retry-After hint, so the
// executor can branch on retryability.
type RESTClient struct {
	baseURL string
	token   string
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewRESTClient creates a REST gateway client.
func NewRESTClient(cfg RESTConfig) (*RESTClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL must not be empty")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpCfg := httpclient.Config{
		Timeout:         cfg.Timeout,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
		SkipTLSVerify:   cfg.SkipTLS,
	}

	return &RESTClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    httpclient.New(httpCfg),
		logger:  logger.With("component", "mail_gateway"),
	}, nil
}

type restMessageList struct {
	Messages []Message `json:"messages"`
}

func (c *RESTClient) ListMessages(ctx context.Context, query string, maxResults int) ([]Message, error) {
	params := url.Values{}
	params.Set("q", query)
	if maxResults > 0 {
		params.Set("max_results", strconv.Itoa(maxResults))
	}

	var list restMessageList
	if err := c.request(ctx, http.MethodGet, "/api/v1/messages?"+params.Encode(), nil, &list); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	c.logger.DebugContext(ctx, "listed messages", "query", query, "count", len(list.Messages))
	return list.Messages, nil
}

type batchRequest struct {
	IDs      []string `json:"ids"`
	LabelIDs []string `json:"label_ids,omitempty"`
}

func (c *RESTClient) batch(ctx context.Context, op string, ids []string, labelIDs []string) (ActionResult, error) {
	var result ActionResult
	body := batchRequest{IDs: ids, LabelIDs: labelIDs}
	if err := c.request(ctx, http.MethodPost, "/api/v1/messages/batch/"+op, body, &result); err != nil {
		return ActionResult{}, fmt.Errorf("batch %s: %w", op, err)
	}

	if len(result.Errors) > 0 {
		c.logger.WarnContext(ctx, "batch partially failed",
			"op", op,
			"processed", result.ProcessedCount,
			"failed", len(result.Errors),
		)
	}
	return result, nil
}

func (c *RESTClient) Archive(ctx context.Context, ids []string) (ActionResult, error) {
	return c.batch(ctx, "archive", ids, nil)
}

func (c *RESTClient) Delete(ctx context.Context, ids []string) (ActionResult, error) {
	return c.batch(ctx, "delete", ids, nil)
}

func (c *RESTClient) AddLabels(ctx context.Context, ids []string, labelIDs []string) (ActionResult, error) {
	return c.batch(ctx, "label", ids, labelIDs)
}

func (c *RESTClient) MarkRead(ctx context.Context, ids []string) (ActionResult, error) {
	return c.batch(ctx, "read", ids, nil)
}

func (c *RESTClient) MarkUnread(ctx context.Context, ids []string) (ActionResult, error) {
	return c.batch(ctx, "unread", ids, nil)
}

func (c *RESTClient) Star(ctx context.Context, ids []string) (ActionResult, error) {
	return c.batch(ctx, "star", ids, nil)
}

func (c *RESTClient) Unstar(ctx context.Context, ids []string) (ActionResult, error) {
	return c.batch(ctx, "unstar", ids, nil)
}

func (c *RESTClient) Counts(ctx context.Context) (Counts, error) {
	var counts Counts
	if err := c.request(ctx, http.MethodGet, "/api/v1/counts", nil, &counts); err != nil {
		return Counts{}, fmt.Errorf("get counts: %w", err)
	}
	return counts, nil
}

func (c *RESTClient) Labels(ctx context.Context) ([]Label, error) {
	var labels []Label
	if err := c.request(ctx, http.MethodGet, "/api/v1/labels", nil, &labels); err != nil {
		return nil, fmt.Errorf("get labels: %w", err)
	}
	return labels, nil
}

// request executes a gateway request with bearer authentication and maps
// non-2xx responses onto the resilience taxonomy.
func (c *RESTClient) request(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = strings.NewReader(string(jsonData))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return &resilience.Error{Kind: resilience.KindNetworkError, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		c.logger.DebugContext(ctx, "gateway error response",
			"status", resp.StatusCode,
			"body", string(bodyBytes))
		return classifyStatus(resp, bodyBytes)
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classifyStatus maps an HTTP error response onto the resilience taxonomy,
// extracting the Retry-After hint when present.
func classifyStatus(resp *http.Response, body []byte) error {
	kind := resilience.KindUnknown
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = resilience.KindRateLimited
	case resp.StatusCode == http.StatusForbidden:
		if strings.Contains(strings.ToLower(string(body)), "quota") {
			kind = resilience.KindQuotaExceeded
		} else {
			kind = resilience.KindInsufficientPermissions
		}
	case resp.StatusCode == http.StatusUnauthorized:
		kind = resilience.KindInvalidToken
	case resp.StatusCode == http.StatusNotFound:
		kind = resilience.KindNotFound
	case resp.StatusCode >= 500:
		kind = resilience.KindNetworkError
	}

	return &resilience.Error{
		Kind:       kind,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		Err:        fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
	}
}

// parseRetryAfter handles the delay-seconds form of the header. The HTTP-date
// form is rare on rate limits and is ignored.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (c *RESTClient) Close() {
	c.http.Close()
}
