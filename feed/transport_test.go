package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/auditdrain/config"
	"go.uber.org/zap"
)

func testFeedConfig(endpoint string, retryMax int) config.FeedConfig {
	return config.FeedConfig{
		Endpoint:          endpoint,
		APIKey:            "test-key",
		AccountID:         "12345",
		TimeFrame:         "last.PT5D",
		RequestTimeout:    5 * time.Second,
		TransientRetryMax: retryMax,
		TransientBackoff:  time.Millisecond,
		RateLimitBackoff:  time.Millisecond,
	}
}

func successBody(count int, hasMore bool, marker string, times ...string) string {
	records := make([]map[string]any, 0, len(times))
	for i, ts := range times {
		records = append(records, map[string]any{
			"time":      ts,
			"fieldsMap": map[string]any{"admin": fmt.Sprintf("admin-%d", i), "change_type": "UPDATED"},
		})
	}
	body, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"auditFeed": map[string]any{
				"marker":       marker,
				"fetchedCount": count,
				"hasMore":      hasMore,
				"accounts": []map[string]any{
					{"id": "12345", "records": records},
				},
			},
		},
	})
	return string(body)
}

const rateLimitBody = `{"errors":[{"message":"rate limit for operation: auditFeed"}]}`

func TestTransportSendSuccess(t *testing.T) {
	var gotRequest struct {
		Query string `json:"query"`
	}
	var gotAPIKey, gotContentType, gotMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAPIKey = r.Header.Get("x-api-key")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		fmt.Fprint(w, successBody(2, true, "next-marker", "1700000000000", "1700000001000"))
	}))
	defer srv.Close()

	transport := NewTransport(testFeedConfig(srv.URL, 10), zap.NewNop())
	page, err := transport.Send(context.Background(), BuildPageQuery("12345", "last.PT5D", ""))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "test-key", gotAPIKey)
	assert.Equal(t, "application/json", gotContentType)
	assert.Contains(t, gotRequest.Query, "auditFeed")

	assert.Equal(t, 2, page.FetchedCount)
	assert.True(t, page.HasMore)
	assert.Equal(t, "next-marker", page.Marker)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "1700000000000", page.Records[0].Time)
	assert.Equal(t, "admin-1", page.Records[1].FieldsMap["admin"])
}

func TestTransportClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType ErrorType
	}{
		{
			name:     "rate limit message in error payload",
			status:   http.StatusOK,
			body:     rateLimitBody,
			wantType: ErrorTypeRateLimit,
		},
		{
			name:     "error with path is a query rejection",
			status:   http.StatusOK,
			body:     `{"errors":[{"message":"invalid timeFrame","path":["auditFeed","timeFrame"]}]}`,
			wantType: ErrorTypeQueryRejected,
		},
		{
			name:     "error without path is a fatal API error",
			status:   http.StatusOK,
			body:     `{"errors":[{"message":"unauthorized"}]}`,
			wantType: ErrorTypeFatalAPI,
		},
		{
			name:     "missing auditFeed is malformed",
			status:   http.StatusOK,
			body:     `{"data":{}}`,
			wantType: ErrorTypeMalformedResponse,
		},
		{
			name:     "missing accounts is malformed",
			status:   http.StatusOK,
			body:     `{"data":{"auditFeed":{"marker":"","fetchedCount":0,"hasMore":false,"accounts":[]}}}`,
			wantType: ErrorTypeMalformedResponse,
		},
		{
			name:     "undecodable body is malformed",
			status:   http.StatusOK,
			body:     `<html>gateway error</html>`,
			wantType: ErrorTypeMalformedResponse,
		},
		{
			name:     "5xx status is transient",
			status:   http.StatusBadGateway,
			body:     "bad gateway",
			wantType: ErrorTypeTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			transport := NewTransport(testFeedConfig(srv.URL, 10), zap.NewNop())
			_, err := transport.Send(context.Background(), "{}")
			require.Error(t, err)

			var fe *FeedError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.wantType, fe.Type)
		})
	}
}

func TestTransportFatalErrorCarriesPayload(t *testing.T) {
	rawPayload := `{"errors":[{"message":"schema mismatch"}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rawPayload)
	}))
	defer srv.Close()

	transport := NewTransport(testFeedConfig(srv.URL, 10), zap.NewNop())
	_, err := transport.Send(context.Background(), "{}")

	var fe *FeedError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, rawPayload, fe.Payload)
}

func TestSendWithRetryTransientBoundary(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		retryMax     int
		wantErr      bool
		wantAttempts int
	}{
		{
			name:         "bound equal to failure count aborts",
			failures:     10,
			retryMax:     10,
			wantErr:      true,
			wantAttempts: 10,
		},
		{
			name:         "bound above failure count succeeds on next attempt",
			failures:     10,
			retryMax:     11,
			wantErr:      false,
			wantAttempts: 11,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if calls <= tt.failures {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				fmt.Fprint(w, successBody(0, false, ""))
			}))
			defer srv.Close()

			transport := NewTransport(testFeedConfig(srv.URL, tt.retryMax), zap.NewNop())
			page, attempts, err := transport.SendWithRetry(context.Background(), "{}")

			assert.Equal(t, tt.wantAttempts, attempts)
			if tt.wantErr {
				require.Error(t, err)
				var fe *FeedError
				require.ErrorAs(t, err, &fe)
				assert.Equal(t, ErrorTypeRetryExhausted, fe.Type)
				assert.Nil(t, page)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, page)
			}
		})
	}
}

func TestSendWithRetryRateLimitUnbounded(t *testing.T) {
	// 50 consecutive rate-limit responses must not consume the transient
	// budget; the run still succeeds.
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 50 {
			fmt.Fprint(w, rateLimitBody)
			return
		}
		fmt.Fprint(w, successBody(1, false, "", "1700000000000"))
	}))
	defer srv.Close()

	transport := NewTransport(testFeedConfig(srv.URL, 10), zap.NewNop())
	page, attempts, err := transport.SendWithRetry(context.Background(), "{}")

	require.NoError(t, err)
	assert.Equal(t, 51, attempts)
	assert.Equal(t, 1, page.FetchedCount)
}

func TestSendWithRetryReusesIdenticalQuery(t *testing.T) {
	var bodies []string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		bodies = append(bodies, req.Query)

		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, successBody(0, false, ""))
	}))
	defer srv.Close()

	query := BuildPageQuery("12345", "last.PT5D", "cursor-abc")
	transport := NewTransport(testFeedConfig(srv.URL, 10), zap.NewNop())
	_, _, err := transport.SendWithRetry(context.Background(), query)
	require.NoError(t, err)

	require.Len(t, bodies, 3)
	for _, b := range bodies {
		assert.Equal(t, query, b)
		assert.True(t, strings.Contains(b, `marker:"cursor-abc"`))
	}
}

func TestSendWithRetryFatalStopsImmediately(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"errors":[{"message":"unauthorized"}]}`)
	}))
	defer srv.Close()

	transport := NewTransport(testFeedConfig(srv.URL, 10), zap.NewNop())
	_, attempts, err := transport.SendWithRetry(context.Background(), "{}")

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	var fe *FeedError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ErrorTypeFatalAPI, fe.Type)
}

func TestSendWithRetryHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testFeedConfig(srv.URL, 1000)
	cfg.TransientBackoff = time.Hour // cancellation must interrupt the sleep

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	transport := NewTransport(cfg, zap.NewNop())
	_, _, err := transport.SendWithRetry(ctx, "{}")
	require.ErrorIs(t, err, context.Canceled)
}
