package pipeline

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/devcheck/internal/util"
)

const fetchMaxRetries = 3

// fetchSleepFunc is the sleep function used between retries (injectable for tests)
var fetchSleepFunc = time.Sleep

// errDisallowed is returned when robots.txt forbids fetching a URL
var errDisallowed = errors.New("disallowed by robots.txt")

// Waiter paces outgoing requests per URL
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// RobotsPolicy decides whether a URL may be fetched
type RobotsPolicy interface {
	IsAllowed(ctx context.Context, rawURL string) bool
}

// Fetcher fetches pages and scripts over plain HTTP
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	limiter    Waiter
	robots     RobotsPolicy
}

// NewFetcher creates a new Fetcher with the given configuration
func NewFetcher(timeout time.Duration, userAgent string, maxBytes int64, insecureTLS bool, httpProxy, httpsProxy, noProxy string) *Fetcher {
	transport := &http.Transport{
		Proxy: util.NewProxyFunc(httpProxy, httpsProxy, noProxy),
	}
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via --insecure
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		},
		userAgent: userAgent,
		maxBytes:  maxBytes,
	}
}

// WithLimiter sets the per-domain pacer used before every request
func (f *Fetcher) WithLimiter(l Waiter) *Fetcher {
	f.limiter = l
	return f
}

// WithRobots sets the robots.txt policy consulted before every request
func (f *Fetcher) WithRobots(r RobotsPolicy) *Fetcher {
	f.robots = r
	return f
}

// FetchResult contains the fetched body and metadata
type FetchResult struct {
	Body        string
	StatusCode  int
	ContentType string
	FinalURL    string
}

// Fetch retrieves the body of the given URL. Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	return f.fetch(ctx, rawURL, false)
}

// FetchPage retrieves a document the way a browser navigates to it: the
// body is returned whatever the HTTP status.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) (*FetchResult, error) {
	return f.fetch(ctx, rawURL, true)
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string, anyStatus bool) (*FetchResult, error) {
	if f.robots != nil && !f.robots.IsAllowed(ctx, rawURL) {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, errDisallowed)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/javascript,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !anyStatus && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &FetchResult{
		Body:        string(body),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

// FetchWithRetry retries transient failures with exponential backoff
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	return f.withRetry(ctx, rawURL, f.Fetch)
}

// FetchPageWithRetry is FetchPage with the retry policy of FetchWithRetry.
// Only transport failures are retried since every status is accepted.
func (f *Fetcher) FetchPageWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	return f.withRetry(ctx, rawURL, f.FetchPage)
}

func (f *Fetcher) withRetry(ctx context.Context, rawURL string, fetch func(context.Context, string) (*FetchResult, error)) (*FetchResult, error) {
	var lastErr error
	for attempt := 0; attempt < fetchMaxRetries; attempt++ {
		result, err := fetch(ctx, rawURL)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryableFetchError(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < fetchMaxRetries-1 {
			fetchSleepFunc(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	return nil, lastErr
}

// isRetryableFetchError returns true for errors that indicate transient failures
func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	if strings.HasPrefix(msg, "unexpected status: ") {
		code := strings.TrimPrefix(msg, "unexpected status: ")
		return strings.HasPrefix(code, "5") || strings.HasPrefix(code, "429")
	}

	if strings.HasPrefix(msg, "fetch: ") {
		s := strings.ToLower(msg)
		return strings.Contains(s, "timeout") ||
			strings.Contains(s, "connection refused") ||
			strings.Contains(s, "connection reset")
	}

	return false
}
