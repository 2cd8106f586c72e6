package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/auditdrain/config"
	"github.com/upb/auditdrain/models"
	"go.uber.org/zap"
)

// Page is a successfully classified page response
type Page struct {
	FetchedCount int
	HasMore      bool
	Marker       string
	Records      []models.AuditRecord
}

// Sender sends one page query and fully absorbs retryable conditions.
// It returns the page, the number of HTTP attempts issued, and an error
// only for fatal conditions (or context cancellation).
type Sender interface {
	SendWithRetry(ctx context.Context, query string) (*Page, int, error)
}

// Transport issues page queries against the audit feed API
type Transport struct {
	cfg        config.FeedConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTransport creates a Transport from feed configuration
func NewTransport(cfg config.FeedConfig, logger *zap.Logger) *Transport {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Transport{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger,
	}
}

// Wire shapes consumed from the API response

type gqlError struct {
	Message string `json:"message"`
	Path    []any  `json:"path"`
}

type gqlAccount struct {
	ID      string               `json:"id"`
	Records []models.AuditRecord `json:"records"`
}

type gqlAuditFeed struct {
	Marker       string       `json:"marker"`
	FetchedCount int          `json:"fetchedCount"`
	HasMore      bool         `json:"hasMore"`
	Accounts     []gqlAccount `json:"accounts"`
}

type gqlResponse struct {
	Data *struct {
		AuditFeed *gqlAuditFeed `json:"auditFeed"`
	} `json:"data"`
	Errors []gqlError `json:"errors"`
}

// Send issues a single call and classifies the outcome. Errors are
// always *FeedError; retry handling belongs to SendWithRetry.
func (t *Transport) Send(ctx context.Context, query string) (*Page, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, NewFeedError(ErrorTypeMalformedResponse, "failed to marshal query body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewFeedError(ErrorTypeTransient, "failed to create request", err)
	}
	req.Header.Set("x-api-key", t.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewFeedError(ErrorTypeTransient, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewFeedError(ErrorTypeTransient, "failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewFeedError(ErrorTypeTransient,
			fmt.Sprintf("unexpected status %s", resp.Status), nil)
	}

	return classify(respBody)
}

// classify turns a 2xx response body into a Page or a *FeedError
func classify(body []byte) (*Page, error) {
	var parsed gqlResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewFeedError(ErrorTypeMalformedResponse, "failed to decode response body", err)
	}

	if len(parsed.Errors) > 0 {
		for _, e := range parsed.Errors {
			if isRateLimitMessage(e.Message) {
				return nil, NewFeedError(ErrorTypeRateLimit, e.Message, nil)
			}
		}
		// A path in the error payload marks a schema/parameter rejection
		// (e.g. an invalid timeFrame); retrying it would loop forever.
		errType := ErrorTypeFatalAPI
		for _, e := range parsed.Errors {
			if len(e.Path) > 0 {
				errType = ErrorTypeQueryRejected
				break
			}
		}
		fe := NewFeedError(errType, parsed.Errors[0].Message, nil)
		fe.Payload = string(body)
		return nil, fe
	}

	if parsed.Data == nil || parsed.Data.AuditFeed == nil {
		return nil, NewFeedError(ErrorTypeMalformedResponse, "response missing data.auditFeed", nil)
	}
	af := parsed.Data.AuditFeed
	if len(af.Accounts) == 0 {
		return nil, NewFeedError(ErrorTypeMalformedResponse, "response missing accounts", nil)
	}

	return &Page{
		FetchedCount: af.FetchedCount,
		HasMore:      af.HasMore,
		Marker:       af.Marker,
		Records:      af.Accounts[0].Records,
	}, nil
}

func isRateLimitMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "rate limit")
}

// SendWithRetry sends the identical query until it succeeds or fails
// fatally. Transient failures retry after TransientBackoff up to
// TransientRetryMax consecutive failures; rate limiting retries after
// RateLimitBackoff without bound and without consuming the transient
// budget. The context is checked before every attempt and every sleep.
func (t *Transport) SendWithRetry(ctx context.Context, query string) (*Page, int, error) {
	attempts := 0
	transientFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		attempts++
		page, err := t.Send(ctx, query)
		if err == nil {
			return page, attempts, nil
		}

		switch {
		case IsRateLimited(err):
			t.logger.Warn("rate limited, backing off",
				zap.Duration("backoff", t.cfg.RateLimitBackoff),
				zap.Int("attempts", attempts))
			if serr := sleep(ctx, t.cfg.RateLimitBackoff); serr != nil {
				return nil, attempts, serr
			}

		case IsTransient(err):
			transientFailures++
			if transientFailures >= t.cfg.TransientRetryMax {
				return nil, attempts, NewFeedError(ErrorTypeRetryExhausted,
					fmt.Sprintf("giving up after %d transient failures", transientFailures), err)
			}
			t.logger.Warn("transient failure, retrying",
				zap.Error(err),
				zap.Int("failures", transientFailures),
				zap.Int("max", t.cfg.TransientRetryMax),
				zap.Duration("backoff", t.cfg.TransientBackoff))
			if serr := sleep(ctx, t.cfg.TransientBackoff); serr != nil {
				return nil, attempts, serr
			}

		default:
			return nil, attempts, err
		}
	}
}

// sleep waits for d or until the context is canceled
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
