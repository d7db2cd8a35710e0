package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/devcheck/internal/cache"
	"github.com/ppiankov/devcheck/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// site serves a page and a fixed set of assets
type site struct {
	page    string
	assets  map[string]string
	delay   time.Duration
	fetches atomic.Int32
}

func (s *site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(s.page))
		return
	}
	body, ok := s.assets[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.fetches.Add(1)
	w.Header().Set("Content-Type", "application/javascript")
	_, _ = w.Write([]byte(body))
}

func newStaticPipeline(t *testing.T, pageTimeout time.Duration) *Pipeline {
	t.Helper()
	fetcher := NewFetcher(5*time.Second, "devcheck-test", 1<<20, false, "", "", "")
	collector := NewStaticCollector(fetcher, cache.NewMemoryCache(time.Minute, time.Minute), pageTimeout, nil)
	p := NewPipeline(model.DefaultConfig(), collector, nil)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func scan(t *testing.T, p *Pipeline, url string) *model.Report {
	t.Helper()
	result, err := p.ScanURL(context.Background(), url)
	require.NoError(t, err)
	require.NotNil(t, result.Report)
	return result.Report
}

func TestScanURL_DevelopmentScript(t *testing.T) {
	s := &site{
		page: `<html><head><script src="/static/app.js"></script></head><body></body></html>`,
		assets: map[string]string{
			"/static/app.js": `//# sourceURL=webpack://app/./src/index.js`,
		},
	}
	srv := httptest.NewServer(s)
	defer srv.Close()

	report := scan(t, newStaticPipeline(t, 5*time.Second), srv.URL+"/")

	assert.Equal(t, model.ScanKindWebsite, report.Kind)
	assert.Equal(t, "http", report.Collector)
	assert.NotEmpty(t, report.ID)
	assert.True(t, report.Result.DevFileFound)
	assert.False(t, report.Result.SourceMapFound)
	assert.False(t, report.Result.DevLogFound)
	assert.True(t, report.Result.Verdict)
	assert.Equal(t, "Development build detected.", report.VerdictLine())
	assert.Equal(t, int32(1), s.fetches.Load(), "script body is fetched once and then served from the cache")
}

func TestScanURL_SourceMapRegardlessOfBody(t *testing.T) {
	s := &site{
		page: `<html><script src="/static/vendor.js.map"></script></html>`,
		assets: map[string]string{
			"/static/vendor.js.map": `{"version":3}`,
		},
	}
	srv := httptest.NewServer(s)
	defer srv.Close()

	report := scan(t, newStaticPipeline(t, 5*time.Second), srv.URL+"/")

	assert.True(t, report.Result.SourceMapFound)
	assert.False(t, report.Result.DevFileFound)
	assert.True(t, report.Result.Verdict)
}

func TestScanURL_IgnoredBundleNeverFetched(t *testing.T) {
	s := &site{
		page: `<html><script src="/js/bootstrap.bundle.min.js"></script><script src="/js/site.js"></script></html>`,
		assets: map[string]string{
			"/js/bootstrap.bundle.min.js": `if (__DEV__) { eval("x") }`,
			"/js/site.js":                 `document.title = "shop"`,
		},
	}
	srv := httptest.NewServer(s)
	defer srv.Close()

	report := scan(t, newStaticPipeline(t, 5*time.Second), srv.URL+"/")

	assert.False(t, report.Result.Verdict)
	assert.Equal(t, "No development build detected.", report.VerdictLine())
	assert.Equal(t, int32(1), s.fetches.Load())
}

func TestScanURL_ScriptTagPredicate(t *testing.T) {
	s := &site{
		page: `<html><script src="/vendor/react.development.js"></script></html>`,
		assets: map[string]string{
			"/vendor/react.development.js": `var React = {};`,
		},
	}
	srv := httptest.NewServer(s)
	defer srv.Close()

	report := scan(t, newStaticPipeline(t, 5*time.Second), srv.URL+"/")

	assert.True(t, report.Result.DevByPagePredicate)
	assert.True(t, report.Result.Verdict)
}

func TestScanURL_MissingScriptIsNoMatch(t *testing.T) {
	s := &site{
		page:   `<html><script src="/gone.js"></script></html>`,
		assets: map[string]string{},
	}
	srv := httptest.NewServer(s)
	defer srv.Close()

	report := scan(t, newStaticPipeline(t, 5*time.Second), srv.URL+"/")

	assert.False(t, report.Result.Verdict)
	assert.Positive(t, report.Result.FetchFailures)
}

func TestScanURL_NavigationTimeout(t *testing.T) {
	s := &site{page: `<html></html>`, delay: 2 * time.Second}
	srv := httptest.NewServer(s)
	defer srv.Close()

	report := scan(t, newStaticPipeline(t, 100*time.Millisecond), srv.URL+"/")

	assert.True(t, report.Result.TimedOut)
	assert.False(t, report.Result.Verdict)
	assert.Equal(t, model.ErrNavigationTimeout.Error(), report.Error)
}

func TestScanURL_ErrorStatusPageIsScanned(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<html><script src="/main.js"></script></html>`))
	})
	mux.HandleFunc("/main.js", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`webpackHotUpdate("main")`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	report := scan(t, newStaticPipeline(t, 5*time.Second), srv.URL+"/missing")

	assert.False(t, report.Result.TimedOut)
	assert.True(t, report.Result.DevFileFound)
	assert.True(t, report.Result.Verdict)
}

func TestScanURL_NavigationFailure(t *testing.T) {
	origSleep := fetchSleepFunc
	fetchSleepFunc = func(d time.Duration) {}
	defer func() { fetchSleepFunc = origSleep }()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL + "/"
	srv.Close()

	report := scan(t, newStaticPipeline(t, 5*time.Second), target)

	assert.True(t, report.Result.TimedOut)
	assert.False(t, report.Result.Verdict)
	assert.Contains(t, report.Error, model.ErrNavigationFailed.Error())
}

// failingCollector fails before any page is loaded
type failingCollector struct{ err error }

func (c failingCollector) Name() string { return "failing" }
func (c failingCollector) Close() error { return nil }
func (c failingCollector) Collect(ctx context.Context, target string) (model.Capture, error) {
	return nil, c.err
}

func TestScanURL_CollectorError(t *testing.T) {
	launch := errors.New("launch chrome: executable not found")
	p := NewPipeline(model.DefaultConfig(), failingCollector{err: launch}, nil)

	_, err := p.ScanURL(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, launch)
	assert.False(t, model.IsNavigationError(err))
}

func TestScanURL_InterruptedIsError(t *testing.T) {
	s := &site{page: `<html></html>`, delay: 2 * time.Second}
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newStaticPipeline(t, 5*time.Second).ScanURL(ctx, srv.URL+"/")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScanURL_NoCollector(t *testing.T) {
	p := NewPipeline(model.DefaultConfig(), nil, nil)
	_, err := p.ScanURL(context.Background(), "http://example.com")
	assert.Error(t, err)
}

// releaseCollector records whether captures are released
type releaseCollector struct {
	obs      model.Observation
	released atomic.Bool
}

func (c *releaseCollector) Name() string { return "fake" }
func (c *releaseCollector) Close() error { return nil }
func (c *releaseCollector) Collect(ctx context.Context, target string) (model.Capture, error) {
	return &trackedCapture{obs: c.obs, released: &c.released}, nil
}

type trackedCapture struct {
	obs      model.Observation
	released *atomic.Bool
}

func (c *trackedCapture) Observation() model.Observation { return c.obs }
func (c *trackedCapture) Release()                       { c.released.Store(true) }

func TestScanURL_ReleasesCapture(t *testing.T) {
	c := &releaseCollector{obs: model.Observation{
		URL:         "https://example.com",
		ConsoleLogs: []string{"You are running a development build of the app"},
	}}
	p := NewPipeline(model.DefaultConfig(), c, nil)

	result, err := p.ScanURL(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.True(t, result.Report.Result.DevLogFound)
	assert.True(t, result.Report.Result.Verdict)
	assert.True(t, c.released.Load())
}

func TestScanSource(t *testing.T) {
	p := NewPipeline(model.DefaultConfig(), nil, nil)

	dev := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dev, ".env"), []byte("PORT=3000\nNODE_ENV=development\n"), 0o644))
	report := p.ScanSource(dev)
	assert.Equal(t, model.ScanKindSourceCode, report.Kind)
	assert.True(t, report.Result.Verdict)
	require.Len(t, report.Result.Findings, 1)
	assert.Equal(t, model.CheckEnvMarker, report.Result.Findings[0].Check)
	assert.Equal(t, "Development environment detected.", report.VerdictLine())

	prod := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(prod, ".env"), []byte("NODE_ENV=production\n"), 0o644))
	report = p.ScanSource(prod)
	assert.False(t, report.Result.Verdict)
	assert.Empty(t, report.Error)
	assert.Equal(t, "No development environment detected.", report.VerdictLine())

	report = p.ScanSource(t.TempDir())
	assert.False(t, report.Result.Verdict)
	assert.NotEmpty(t, report.Error)
}

func TestWatchSource(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(model.DefaultConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan *model.Report, 16)
	done := make(chan error, 1)
	go func() {
		done <- p.WatchSource(ctx, dir, func(r *model.Report) { reports <- r })
	}()

	first := <-reports
	assert.False(t, first.Result.Verdict)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("NODE_ENV=development\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for detected := false; !detected; {
		select {
		case r := <-reports:
			detected = r.Result.Verdict
		case <-deadline:
			t.Fatal("no report after .env was written")
		}
	}

	cancel()
	require.NoError(t, <-done)
}

func TestRenderReport(t *testing.T) {
	p := NewPipeline(model.DefaultConfig(), nil, nil)
	dir := t.TempDir()

	report := &model.Report{
		ID:     "scan-1",
		Kind:   model.ScanKindWebsite,
		Target: "https://example.com",
		Result: model.ScanResult{SourceMapFound: true, Verdict: true},
	}
	jsonPath := filepath.Join(dir, "out", "report.json")
	mdPath := filepath.Join(dir, "report.md")

	require.NoError(t, p.RenderReport(report, jsonPath, mdPath))

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"source_map_found": true`))

	_, err = os.Stat(mdPath)
	assert.NoError(t, err)

	assert.NoError(t, p.RenderReport(report, "", ""))
}
