package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketglass/client-go/reqcache"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cache := reqcache.New(context.Background(), reqcache.Config{SweepInterval: -1})
	t.Cleanup(func() { cache.Close() })

	c := New(Config{
		BaseURL:    srv.URL,
		QuoteTTL:   time.Minute,
		DetailTTL:  time.Minute,
		PersistTTL: time.Hour,
	}, cache, nil)
	return c, srv
}

func quotesHandler(hits *atomic.Int32) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/watchlist/quotes", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode([]Quote{
			{Code: "600000", Name: "SPDB", Price: 7.82, ChangePct: 0.51},
			{Code: "000001", Name: "PAB", Price: 10.4, ChangePct: -0.2},
		})
	})
	mux.HandleFunc("POST /v1/watchlist", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("DELETE /v1/watchlist/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestWatchlistQuotesServedFromCache(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, quotesHandler(&hits))
	ctx := context.Background()

	quotes, err := c.WatchlistQuotes(ctx, []string{"600000", "000001"}, false)
	require.NoError(t, err)
	assert.Len(t, quotes, 2)

	// Same set of codes, different order: same cache entry, no new request.
	quotes, err = c.WatchlistQuotes(ctx, []string{"000001", "600000"}, false)
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
	assert.Equal(t, int32(1), hits.Load())
}

func TestWatchlistMutationInvalidates(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, quotesHandler(&hits))
	ctx := context.Background()

	_, err := c.WatchlistQuotes(ctx, []string{"600000"}, false)
	require.NoError(t, err)
	require.NoError(t, c.AddWatchlistItem(ctx, "000001"))

	// The watchlist family was invalidated: next read refetches.
	_, err = c.WatchlistQuotes(ctx, []string{"600000"}, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRemoveWatchlistItemInvalidatesDetail(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/funds/{code}", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(FundDetail{Code: r.PathValue("code"), NetValue: 1.23})
	})
	mux.HandleFunc("DELETE /v1/watchlist/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.FundDetail(ctx, "600000", false)
	require.NoError(t, err)
	require.NoError(t, c.RemoveWatchlistItem(ctx, "600000"))

	_, err = c.FundDetail(ctx, "600000", false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestForceRefetches(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, quotesHandler(&hits))
	ctx := context.Background()

	_, err := c.WatchlistQuotes(ctx, []string{"600000"}, false)
	require.NoError(t, err)
	_, err = c.WatchlistQuotes(ctx, []string{"600000"}, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestStaleFallbackOnUpstreamFailure(t *testing.T) {
	var failing atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/news", func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]NewsItem{{ID: "n1", Title: "markets up"}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	cache := reqcache.New(context.Background(), reqcache.Config{SweepInterval: -1})
	t.Cleanup(func() { cache.Close() })
	c := New(Config{
		BaseURL:    srv.URL,
		DetailTTL:  time.Millisecond,
		PersistTTL: time.Hour,
	}, cache, nil)
	ctx := context.Background()

	items, err := c.News(ctx, "macro")
	require.NoError(t, err)
	require.Len(t, items, 1)

	failing.Store(true)
	time.Sleep(5 * time.Millisecond) // let the fresh TTL lapse

	// Flaky upstream degrades to slightly old news, not an error.
	items, err = c.News(ctx, "macro")
	require.NoError(t, err)
	assert.Equal(t, "n1", items[0].ID)
}

func TestErrorSurface(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/funds/{code}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"no such fund"}`, http.StatusNotFound)
	})
	c, _ := newTestClient(t, mux)

	_, err := c.FundDetail(context.Background(), "999999", false)
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, http.MethodGet, apiErr.Method)
	assert.Contains(t, apiErr.Body, "no such fund")
}

func TestPeekWatchlistQuotes(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, quotesHandler(&hits))
	ctx := context.Background()

	_, ok := c.PeekWatchlistQuotes([]string{"600000"})
	assert.False(t, ok)

	_, err := c.WatchlistQuotes(ctx, []string{"600000"}, false)
	require.NoError(t, err)

	quotes, ok := c.PeekWatchlistQuotes([]string{"600000"})
	assert.True(t, ok)
	assert.Len(t, quotes, 2)
	assert.Equal(t, int32(1), hits.Load())
}

func TestMarketRankingPagesAreDistinctEntries(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/ranking", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		page := r.URL.Query().Get("page")
		json.NewEncoder(w).Encode(RankingPage{Market: r.URL.Query().Get("market"), Page: len(page)})
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.MarketRanking(ctx, "sh", 1, false)
	require.NoError(t, err)
	_, err = c.MarketRanking(ctx, "sh", 2, false)
	require.NoError(t, err)
	_, err = c.MarketRanking(ctx, "sh", 1, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}
