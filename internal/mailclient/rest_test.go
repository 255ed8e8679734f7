package mailclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxkeep/boxkeep/internal/resilience"
)

func newTestRESTClient(t *testing.T, handler http.Handler) *RESTClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewRESTClient(RESTConfig{
		BaseURL: server.URL,
		Token:   "test-token",
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestRESTClientListMessages(t *testing.T) {
	client := newTestRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/messages", r.URL.Path)
		assert.Equal(t, "in:inbox", r.URL.Query().Get("q"))
		assert.Equal(t, "50", r.URL.Query().Get("max_results"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(restMessageList{Messages: []Message{
			{ID: "m1", From: "sender@example.com", Subject: "hello"},
			{ID: "m2", From: "other@example.com", Subject: "world"},
		}})
	}))

	messages, err := client.ListMessages(context.Background(), "in:inbox", 50)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "sender@example.com", messages[0].From)
}

func TestRESTClientBatchArchive(t *testing.T) {
	client := newTestRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/messages/batch/archive", r.URL.Path)

		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"m1", "m2"}, req.IDs)

		_ = json.NewEncoder(w).Encode(ActionResult{Success: true, ProcessedCount: 2})
	}))

	result, err := client.Archive(context.Background(), []string{"m1", "m2"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ProcessedCount)
}

func TestRESTClientBatchPartialFailure(t *testing.T) {
	client := newTestRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ActionResult{
			Success:        false,
			ProcessedCount: 1,
			Errors:         []ItemError{{ID: "m2", Reason: "not found"}},
		})
	}))

	result, err := client.Delete(context.Background(), []string{"m1", "m2"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ProcessedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "m2", result.Errors[0].ID)
}

func TestRESTClientAddLabelsSendsLabelIDs(t *testing.T) {
	client := newTestRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"label-1"}, req.LabelIDs)

		_ = json.NewEncoder(w).Encode(ActionResult{Success: true, ProcessedCount: 1})
	}))

	_, err := client.AddLabels(context.Background(), []string{"m1"}, []string{"label-1"})
	require.NoError(t, err)
}

func TestRESTClientErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		wantKind   resilience.Kind
		wantDelay  time.Duration
	}{
		{
			name:       "rate limited with retry-after",
			status:     http.StatusTooManyRequests,
			retryAfter: "7",
			wantKind:   resilience.KindRateLimited,
			wantDelay:  7 * time.Second,
		},
		{
			name:     "quota exhausted",
			status:   http.StatusForbidden,
			body:     `{"error":"daily quota exceeded"}`,
			wantKind: resilience.KindQuotaExceeded,
		},
		{
			name:     "forbidden without quota hint",
			status:   http.StatusForbidden,
			body:     `{"error":"scope missing"}`,
			wantKind: resilience.KindInsufficientPermissions,
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			wantKind: resilience.KindInvalidToken,
		},
		{
			name:     "not found",
			status:   http.StatusNotFound,
			wantKind: resilience.KindNotFound,
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			wantKind: resilience.KindNetworkError,
		},
		{
			name:     "unmapped status",
			status:   http.StatusTeapot,
			wantKind: resilience.KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := client.Counts(context.Background())
			require.Error(t, err)

			var resErr *resilience.Error
			require.True(t, errors.As(err, &resErr))
			assert.Equal(t, tt.wantKind, resErr.Kind)
			assert.Equal(t, tt.wantDelay, resErr.RetryAfter)
		})
	}
}

func TestRESTClientTransportErrorIsNetwork(t *testing.T) {
	client, err := NewRESTClient(RESTConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: time.Second,
	})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Counts(context.Background())
	require.Error(t, err)

	var resErr *resilience.Error
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, resilience.KindNetworkError, resErr.Kind)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-5"))
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
}
