// Package rules implements the development-marker rule engine. It classifies
// observed console logs, network responses and script bodies into a single
// development-build verdict.
package rules

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/devcheck/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFetchWorkers = 4
	defaultFetchTimeout = 10 * time.Second
	maxExcerpt          = 200
)

// Engine classifies artifacts against a fixed MarkerSet and IgnoreSet.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	markers      model.MarkerSet
	ignore       model.IgnoreSet
	fetchWorkers int
	fetchTimeout time.Duration
	logger       *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithFetchWorkers bounds the number of concurrent script fetches
func WithFetchWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.fetchWorkers = n
		}
	}
}

// WithFetchTimeout bounds the wait for a single script fetch
func WithFetchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.fetchTimeout = d
		}
	}
}

// WithLogger sets the logger used for per-check diagnostics
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine. The sets are copied so later changes by the
// caller do not affect classification.
func NewEngine(markers model.MarkerSet, ignore model.IgnoreSet, opts ...Option) *Engine {
	e := &Engine{
		markers:      append(model.MarkerSet(nil), markers...),
		ignore:       append(model.IgnoreSet(nil), ignore...),
		fetchWorkers: defaultFetchWorkers,
		fetchTimeout: defaultFetchTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewDefaultEngine creates an engine with the built-in marker and ignore sets
func NewDefaultEngine(opts ...Option) *Engine {
	return NewEngine(model.DefaultMarkers(), model.DefaultIgnore(), opts...)
}

// Markers returns a copy of the engine's marker set
func (e *Engine) Markers() model.MarkerSet {
	return append(model.MarkerSet(nil), e.markers...)
}

// MatchesAnyMarker reports whether text contains at least one marker.
// Empty text never matches.
func (e *Engine) MatchesAnyMarker(text string) bool {
	if text == "" {
		return false
	}
	for _, m := range e.markers {
		if m != "" && strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// MatchedMarkers returns every marker contained in text, in set order
func (e *Engine) MatchedMarkers(text string) []string {
	return e.markers.Matches(text)
}

// IsIgnoredURL reports whether url is exempt from body inspection
func (e *Engine) IsIgnoredURL(url string) bool {
	return e.ignore.Contains(url)
}

// ClassifyConsoleLogs reports whether any console line matches a marker
func (e *Engine) ClassifyConsoleLogs(logs []string) bool {
	return len(e.consoleFindings(logs)) > 0
}

// ClassifyNetworkResponses inspects the observed responses.
// sourceMapFound is set by any URL ending in ".map", ignored or not.
// devFileFound is set by a non-ignored ".js"/".map" response whose body
// matches a marker; bodies that fail to load contribute nothing.
func (e *Engine) ClassifyNetworkResponses(responses []model.Response) (sourceMapFound, devFileFound bool) {
	maps, files, _ := e.responseFindings(responses)
	return len(maps) > 0, len(files) > 0
}

// ClassifyScripts fetches every non-empty, non-ignored script URL and
// reports whether any body matches a marker. Fetch failures are skipped.
func (e *Engine) ClassifyScripts(ctx context.Context, scriptURLs []string, fetch model.FetchFunc) bool {
	found, _ := e.scriptFindings(ctx, scriptURLs, fetch)
	return len(found) > 0
}

// EvaluatePagePredicate reports whether any page-level indicator is present
func (e *Engine) EvaluatePagePredicate(state model.PageState) bool {
	return state.DevToolsHook || state.WebpackScriptTag || state.ReactDevScriptTag
}

// FinalVerdict is the logical OR of the four findings
func FinalVerdict(devLogFound, sourceMapFound, devFileFound, devByPagePredicate bool) bool {
	return devLogFound || sourceMapFound || devFileFound || devByPagePredicate
}

// Evaluate runs every check over one observation and returns the result
func (e *Engine) Evaluate(ctx context.Context, obs model.Observation) model.ScanResult {
	var result model.ScanResult

	logs := e.consoleFindings(obs.ConsoleLogs)
	result.DevLogFound = len(logs) > 0
	result.Findings = append(result.Findings, logs...)
	if !result.DevLogFound {
		e.logger.Debug("No development logs detected.")
	}

	maps, files, respFailures := e.responseFindings(obs.Responses)
	result.SourceMapFound = len(maps) > 0
	result.Findings = append(result.Findings, maps...)
	if !result.SourceMapFound {
		e.logger.Debug("No source maps detected.")
	}

	scripts, scriptFailures := e.scriptFindings(ctx, obs.ScriptURLs, obs.Fetch)
	result.DevFileFound = len(files) > 0 || len(scripts) > 0
	result.Findings = append(result.Findings, files...)
	result.Findings = append(result.Findings, scripts...)
	if !result.DevFileFound {
		e.logger.Debug("No development-specific code detected in the page content.")
	}

	result.DevByPagePredicate = e.EvaluatePagePredicate(obs.Page)
	if result.DevByPagePredicate {
		e.logger.Warn("Detected development build via script-based check.",
			zap.Bool("devtools_hook", obs.Page.DevToolsHook),
			zap.Bool("webpack_script_tag", obs.Page.WebpackScriptTag),
			zap.Bool("react_dev_script_tag", obs.Page.ReactDevScriptTag))
		result.Findings = append(result.Findings, model.Finding{
			Check:      model.CheckPagePredicate,
			Provenance: model.ProvenancePage,
			URL:        obs.URL,
		})
	} else {
		e.logger.Debug("No development build detected via script-based check.")
	}

	result.FetchFailures = respFailures + scriptFailures
	result.Verdict = FinalVerdict(result.DevLogFound, result.SourceMapFound, result.DevFileFound, result.DevByPagePredicate)
	return result
}

func (e *Engine) consoleFindings(logs []string) []model.Finding {
	var findings []model.Finding
	for _, line := range logs {
		matched := e.MatchedMarkers(line)
		if len(matched) == 0 {
			continue
		}
		e.logger.Warn("Detected development log", zap.String("log", line))
		findings = append(findings, model.Finding{
			Check:      model.CheckDevLog,
			Provenance: model.ProvenanceConsoleLog,
			Markers:    matched,
			Excerpt:    truncate(line, maxExcerpt),
		})
	}
	return findings
}

func (e *Engine) responseFindings(responses []model.Response) (maps, files []model.Finding, failures int) {
	for _, resp := range responses {
		isMap := strings.HasSuffix(resp.URL, ".map")
		if isMap {
			e.logger.Warn("Source map found", zap.String("url", resp.URL))
			maps = append(maps, model.Finding{
				Check:      model.CheckSourceMap,
				Provenance: model.ProvenanceResponseBody,
				URL:        resp.URL,
			})
		}

		if !isMap && !strings.HasSuffix(resp.URL, ".js") {
			continue
		}
		if e.IsIgnoredURL(resp.URL) || resp.Content == nil {
			continue
		}

		body, err := resp.Content()
		if err != nil {
			failures++
			e.logger.Debug("Error fetching response body", zap.String("url", resp.URL), zap.Error(err))
			continue
		}
		if matched := e.MatchedMarkers(body); len(matched) > 0 {
			e.logger.Warn("Detected development-specific code", zap.String("url", resp.URL), zap.Strings("markers", matched))
			files = append(files, model.Finding{
				Check:      model.CheckDevFile,
				Provenance: model.ProvenanceResponseBody,
				URL:        resp.URL,
				Markers:    matched,
			})
		}
	}
	return maps, files, failures
}

// scriptFindings fetches script bodies with bounded concurrency. Findings
// are returned in input order so output does not depend on fetch timing.
func (e *Engine) scriptFindings(ctx context.Context, scriptURLs []string, fetch model.FetchFunc) ([]model.Finding, int) {
	if fetch == nil || len(scriptURLs) == 0 {
		return nil, 0
	}

	slots := make([]*model.Finding, len(scriptURLs))
	var (
		mu       sync.Mutex
		failures int
	)

	g := new(errgroup.Group)
	g.SetLimit(e.fetchWorkers)

	for i, scriptURL := range scriptURLs {
		if scriptURL == "" || e.IsIgnoredURL(scriptURL) {
			continue
		}
		g.Go(func() error {
			body, err := e.fetchOne(ctx, fetch, scriptURL)
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				e.logger.Debug("Skipping script due to fetch error", zap.String("script", scriptURL), zap.Error(err))
				return nil
			}
			if matched := e.MatchedMarkers(body); len(matched) > 0 {
				e.logger.Warn("Detected development-specific code in script", zap.String("script", scriptURL), zap.Strings("markers", matched))
				slots[i] = &model.Finding{
					Check:      model.CheckDevFile,
					Provenance: model.ProvenanceScriptBody,
					URL:        scriptURL,
					Markers:    matched,
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var findings []model.Finding
	for _, f := range slots {
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings, failures
}

// fetchOne runs a single fetch under the per-fetch timeout. A fetcher that
// ignores its context is abandoned once the timeout fires.
func (e *Engine) fetchOne(ctx context.Context, fetch model.FetchFunc, url string) (string, error) {
	fctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	type outcome struct {
		body string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		body, err := safeFetch(fctx, fetch, url)
		done <- outcome{body: body, err: err}
	}()

	select {
	case out := <-done:
		return out.body, out.err
	case <-fctx.Done():
		return "", fctx.Err()
	}
}

// safeFetch turns a panicking fetcher into an ordinary fetch failure
func safeFetch(ctx context.Context, fetch model.FetchFunc, url string) (body string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FetchPanicError{URL: url, Value: r}
		}
	}()
	return fetch(ctx, url)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
