package pnw

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points a client at the given handler with retries and rate
// limiting effectively disabled so failure classification is observable
// directly.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "test-key", 6000, 5*time.Second, nil)
	c.http.RetryMax = 0
	return c
}

func nationJSON(id int, name string, available bool, beige int) string {
	return fmt.Sprintf(`{"id": "%d", "nation_name": "%s", "alliance_id": "100",
		"espionage_available": %t, "beige_turns": %d, "vacation_mode_turns": 0}`,
		id, name, available, beige)
}

func TestFetchNationStatus(t *testing.T) {
	var gotQuery, gotKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotKey = r.URL.Query().Get("api_key")
		fmt.Fprintf(w, `{"data": {"nations": {"data": [%s]}}}`, nationJSON(42, "Arcadia", true, 0))
	})

	snap, err := client.FetchNationStatus(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, 42, snap.ID)
	assert.Equal(t, "Arcadia", snap.Name)
	assert.True(t, snap.EspionageAvailable)
	assert.Equal(t, "test-key", gotKey)
	assert.Contains(t, gotQuery, "nations(id:[42])")
	assert.Contains(t, gotQuery, "espionage_available")
}

func TestFetchNationStatusNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"nations": {"data": []}}}`)
	})

	_, err := client.FetchNationStatus(context.Background(), 404404)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsRetryable(err))
}

func TestFetchNationStatusRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.FetchNationStatus(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.True(t, IsRetryable(err))
}

func TestRateLimitClassifiedAfterRetries(t *testing.T) {
	// 429 is retried at the transport level; once the budget is spent the
	// last response must still classify as rate_limited, not transient.
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "test-key", 6000, 5*time.Second, nil)
	client.http.RetryMax = 1
	client.http.RetryWaitMin = time.Millisecond
	client.http.RetryWaitMax = time.Millisecond

	_, err := client.FetchNationStatus(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestFetchNationStatusServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.FetchNationStatus(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsNotFound(err))
}

func TestGraphQLErrorClassification(t *testing.T) {
	t.Run("rate limit message", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"errors": [{"message": "You have hit the rate limit."}]}`)
		})
		_, err := client.FetchNationStatus(context.Background(), 1)
		require.Error(t, err)
		assert.True(t, IsRateLimited(err))
	})

	t.Run("other message", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"errors": [{"message": "Internal server error"}]}`)
		})
		_, err := client.FetchNationStatus(context.Background(), 1)
		require.Error(t, err)
		assert.True(t, IsRetryable(err))
		assert.False(t, IsRateLimited(err))
	})
}

func TestFetchNationPage(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		fmt.Fprintf(w, `{"data": {"nations": {
			"paginatorInfo": {"hasMorePages": true, "currentPage": 3},
			"data": [%s, %s, {"id": "0"}]}}}`,
			nationJSON(1, "One", false, 8), nationJSON(2, "Two", true, 0))
	})

	snaps, hasMore, err := client.FetchNationPage(context.Background(), 3, 500)
	require.NoError(t, err)

	assert.True(t, hasMore)
	// The malformed third record is skipped, not fatal.
	require.Len(t, snaps, 2)
	assert.Equal(t, 1, snaps[0].ID)
	assert.Equal(t, 2, snaps[1].ID)
	assert.Contains(t, gotQuery, "first: 500")
	assert.Contains(t, gotQuery, "page: 3")
	assert.Contains(t, gotQuery, "paginatorInfo")
}

func TestFetchNationPageLastPage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data": {"nations": {
			"paginatorInfo": {"hasMorePages": false, "currentPage": 1},
			"data": [%s]}}}`, nationJSON(1, "One", true, 0))
	})

	_, hasMore, err := client.FetchNationPage(context.Background(), 1, 500)
	require.NoError(t, err)
	assert.False(t, hasMore)
}

func TestFetchNationsAfter(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		fmt.Fprintf(w, `{"data": {"nations": {"data": [%s]}}}`, nationJSON(9001, "Fresh", false, 14))
	})

	snaps, err := client.FetchNationsAfter(context.Background(), 9000, 100)
	require.NoError(t, err)

	require.Len(t, snaps, 1)
	assert.Equal(t, 9001, snaps[0].ID)
	assert.Contains(t, gotQuery, "id_gt: 9000")
	assert.Contains(t, gotQuery, "first: 100")
}

func TestQueryEscapesParameters(t *testing.T) {
	var rawQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		fmt.Fprintf(w, `{"data": {"nations": {"data": [%s]}}}`, nationJSON(1, "One", true, 0))
	})

	_, err := client.FetchNationStatus(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, strings.Contains(rawQuery, "{"), "GraphQL braces must be url-encoded")
}
