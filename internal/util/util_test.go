package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProxyFunc_ExplicitProxies(t *testing.T) {
	proxy := NewProxyFunc("http://proxy.local:3128", "http://secure.local:3129", "internal.example")

	cases := []struct {
		target string
		want   string
	}{
		{"http://example.com/app.js", "http://proxy.local:3128"},
		{"https://example.com/app.js", "http://secure.local:3129"},
		{"https://internal.example/app.js", ""},
	}

	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			u, err := url.Parse(tc.target)
			require.NoError(t, err)

			got, err := proxy(&http.Request{URL: u})
			require.NoError(t, err)
			if tc.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestNewProxyFunc_Environment(t *testing.T) {
	t.Setenv("HTTP_PROXY", "")
	t.Setenv("HTTPS_PROXY", "")
	t.Setenv("http_proxy", "")
	t.Setenv("https_proxy", "")

	proxy := NewProxyFunc("", "", "")
	u, _ := url.Parse("http://example.com/")
	got, err := proxy(&http.Request{URL: u})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNormalizeUserAgent(t *testing.T) {
	assert.Equal(t, "devcheck", NormalizeUserAgent("devcheck/0.1 (+https://github.com/ppiankov/devcheck)"))
	assert.Equal(t, "curl", NormalizeUserAgent("curl"))
	assert.Equal(t, "", NormalizeUserAgent(""))
}

func TestRobotsChecker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("User-agent: devcheck\nDisallow: /private\nCrawl-delay: 2\n\nUser-agent: *\nDisallow: /\n"))
	}))
	defer srv.Close()

	rc := NewRobotsChecker("devcheck/0.1", 5*time.Second)
	ctx := context.Background()

	allowed, delay, err := rc.CanFetch(ctx, srv.URL+"/static/app.js")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2*time.Second, delay)

	assert.False(t, rc.IsAllowed(ctx, srv.URL+"/private/app.js"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "robots.txt should be cached per origin")

	rc.Clear()
	assert.True(t, rc.IsAllowed(ctx, srv.URL+"/"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestRobotsChecker_MissingAndBroken(t *testing.T) {
	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	rc := NewRobotsChecker("devcheck/0.1", 5*time.Second)
	ctx := context.Background()

	assert.True(t, rc.IsAllowed(ctx, missing.URL+"/app.js"))
	assert.False(t, rc.IsAllowed(ctx, broken.URL+"/app.js"))
	assert.True(t, rc.IsAllowed(ctx, "data:text/plain,hello"))
	assert.True(t, rc.IsAllowed(ctx, "http://127.0.0.1:1/unreachable.js"))
}
