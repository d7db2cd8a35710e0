package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/devcheck/internal/cache"
	"github.com/ppiankov/devcheck/internal/model"
	"go.uber.org/zap"
)

// StaticCollector observes a page without a browser: it downloads the HTML,
// enumerates its script tags and downloads each script. There are no console
// logs and no JavaScript globals, so only the script-tag page indicators
// can be evaluated.
type StaticCollector struct {
	fetcher     *Fetcher
	bodies      cache.Cache
	pageTimeout time.Duration
	logger      *zap.Logger
}

// NewStaticCollector creates a collector around fetcher and a body cache
func NewStaticCollector(fetcher *Fetcher, bodies cache.Cache, pageTimeout time.Duration, logger *zap.Logger) *StaticCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bodies == nil {
		bodies = cache.NewMemoryCache(10*time.Minute, 20*time.Minute)
	}
	if pageTimeout <= 0 {
		pageTimeout = 30 * time.Second
	}
	return &StaticCollector{
		fetcher:     fetcher,
		bodies:      bodies,
		pageTimeout: pageTimeout,
		logger:      logger,
	}
}

// Name identifies the collector in reports
func (s *StaticCollector) Name() string { return "http" }

// Close releases nothing; the collector holds no connections
func (s *StaticCollector) Close() error { return nil }

// Collect downloads target and describes it as an observation. As in a
// browser, an error status page is still a loaded page and is inspected.
func (s *StaticCollector) Collect(ctx context.Context, target string) (model.Capture, error) {
	pageCtx, cancel := context.WithTimeout(ctx, s.pageTimeout)
	defer cancel()

	page, err := s.fetcher.FetchPageWithRetry(pageCtx, target)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(pageCtx.Err(), context.DeadlineExceeded):
			return nil, model.ErrNavigationTimeout
		default:
			return nil, fmt.Errorf("%w: %w", model.ErrNavigationFailed, err)
		}
	}

	tags, err := ExtractScripts(page.Body, page.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	s.logger.Debug("Page fetched",
		zap.String("url", page.FinalURL),
		zap.Int("status", page.StatusCode),
		zap.Int("scripts", len(tags.URLs)))

	obs := model.Observation{
		URL:        page.FinalURL,
		ScriptURLs: tags.URLs,
		Fetch:      s.fetchBody,
		Page: model.PageState{
			WebpackScriptTag:  tags.AnySrcContains("webpack://"),
			ReactDevScriptTag: tags.AnySrcContains("react.development.js"),
		},
	}

	obs.Responses = append(obs.Responses, model.StaticResponse(page.FinalURL, page.Body))
	for _, u := range tags.URLs {
		obs.Responses = append(obs.Responses, model.Response{
			URL:     u,
			Content: s.content(ctx, u),
		})
	}

	return &model.StaticCapture{Obs: obs}, nil
}

func (s *StaticCollector) content(ctx context.Context, url string) model.ContentFunc {
	return func() (string, error) {
		return s.fetchBody(ctx, url)
	}
}

// fetchBody downloads url through the body cache
func (s *StaticCollector) fetchBody(ctx context.Context, url string) (string, error) {
	key := cache.CacheKey(url)
	if body, ok := s.bodies.Get(key); ok {
		return string(body), nil
	}

	result, err := s.fetcher.FetchWithRetry(ctx, url)
	if err != nil {
		return "", err
	}

	if err := s.bodies.Set(key, []byte(result.Body), 0); err != nil {
		s.logger.Debug("Cache write failed", zap.String("url", url), zap.Error(err))
	}
	return result.Body, nil
}
