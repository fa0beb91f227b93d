// Package marketdata is the marketglass API client. Read endpoints go
// through the embedded request cache (package reqcache); mutations bypass
// it and invalidate the affected key families afterward.
package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketglass/client-go/reqcache"
)

var (
	Version = "dev"
	retries = 5
)

// Client talks to the marketglass API. Construct with New; the zero value
// is not usable.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cache   *reqcache.Cache
	log     *zap.Logger
	cfg     Config
}

// Error is returned for failed API requests. A failed, non-stale-eligible
// read surfaces as this explicit error so callers can distinguish "loaded,
// zero items" from "failed to load".
type Error struct {
	URL    string
	Method string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a Client. The cache is owned by the caller (so tests and
// multiple clients can decide whether to share it); logger may be nil.
func New(cfg Config, cache *reqcache.Cache, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    http.DefaultClient,
		cache:   cache,
		log:     log,
		cfg:     cfg,
	}
}

// Cache exposes the underlying cache for invalidation from application code.
func (c *Client) Cache() *reqcache.Cache { return c.cache }

func userAgent() string {
	return "marketglass-client-go/" + Version
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
			return true
		}
		if strings.Contains(err.Error(), "EOF") {
			return true
		}
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable,
			http.StatusGatewayTimeout, http.StatusTooManyRequests:
			return true
		}
	}
	return false
}

// do performs one API request with retries and decodes the JSON response
// into out (if non-nil).
func (c *Client) do(ctx context.Context, method, pathParam string, payload, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return &Error{URL: c.baseURL, Method: method, Err: fmt.Errorf("parsing base url: %w", err)}
	}

	if i := strings.Index(pathParam, "?"); i != -1 {
		u.RawQuery = pathParam[i+1:]
		pathParam = pathParam[:i]
	}
	u.Path = path.Join(u.Path, pathParam)

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return &Error{URL: u.String(), Method: method, Err: fmt.Errorf("marshalling payload: %w", err)}
		}
	}

	reqID := uuid.NewString()
	log := c.log.With(zap.String("requestId", reqID), zap.String("method", method), zap.String("url", u.String()))
	log.Debug("sending request")

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return &Error{URL: u.String(), Method: method, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	var resp *http.Response
	for i := range retries {
		isLast := i == retries-1
		var err error
		resp, err = c.http.Do(req)
		if shouldRetry(resp, err) && !isLast {
			log.Debug("retryable error, retrying", zap.Int("attempt", i+1))
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			if payload != nil {
				req.Body = io.NopCloser(bytes.NewReader(body))
			}
			// exponential backoff
			v := 150 * math.Pow(2, float64(i))
			time.Sleep(time.Duration(v) * time.Millisecond)
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return &Error{URL: u.String(), Method: method, Err: fmt.Errorf("sending request: %w", err)}
		}
		break
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{URL: u.String(), Method: method, Status: resp.StatusCode, Err: fmt.Errorf("reading response body: %w", err)}
	}
	log.Debug("response", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(respBody)))

	if resp.StatusCode > 299 {
		return &Error{
			URL:    u.String(),
			Method: method,
			Status: resp.StatusCode,
			Body:   string(respBody),
			Err:    fmt.Errorf("request failed with status %s", resp.Status),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &Error{URL: u.String(), Method: method, Status: resp.StatusCode, Body: string(respBody), Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}

// getJSON returns a fetch function for one GET endpoint, for use with the
// cache orchestrator.
func getJSON[T any](c *Client, pathAndQuery string) reqcache.FetchFunc[T] {
	return func(ctx context.Context) (T, error) {
		var out T
		err := c.do(ctx, http.MethodGet, pathAndQuery, nil, &out)
		return out, err
	}
}
