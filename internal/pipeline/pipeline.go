package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/devcheck/internal/envcheck"
	"github.com/ppiankov/devcheck/internal/model"
	"github.com/ppiankov/devcheck/internal/rules"
	"go.uber.org/zap"
)

// Collector produces an observation for a website
type Collector interface {
	Name() string
	Collect(ctx context.Context, target string) (model.Capture, error)
	Close() error
}

// Pipeline orchestrates collection and classification
type Pipeline struct {
	engine    *rules.Engine
	collector Collector
	renderer  *Renderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewPipeline creates a pipeline. collector may be nil for source-tree scans.
func NewPipeline(cfg *model.Config, collector Collector, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := rules.NewEngine(cfg.Rules.Markers, cfg.Rules.Ignore,
		rules.WithFetchWorkers(cfg.Rules.FetchWorkers),
		rules.WithFetchTimeout(cfg.Rules.FetchTimeout),
		rules.WithLogger(logger),
	)

	return &Pipeline{
		engine:    engine,
		collector: collector,
		renderer:  NewRenderer(),
		logger:    logger,
		now:       time.Now,
	}
}

// ScanResult contains the complete scan result
type ScanResult struct {
	Report *model.Report
	Error  error
}

// ScanURL collects and classifies a single website. A navigation timeout or
// failure is not an error: it yields a report with TimedOut set and a false
// verdict.
func (p *Pipeline) ScanURL(ctx context.Context, url string) (*ScanResult, error) {
	if p.collector == nil {
		return nil, errors.New("no collector configured")
	}

	start := p.now()
	report := p.newReport(model.ScanKindWebsite, url, start)
	report.Collector = p.collector.Name()

	capture, err := p.collector.Collect(ctx, url)
	if err != nil {
		if model.IsNavigationError(err) {
			p.logger.Error("Error: Page load timed out for "+url, zap.Error(err))
			report.Result = model.TimedOutResult()
			report.Error = err.Error()
			report.Duration = p.now().Sub(start)
			return &ScanResult{Report: report}, nil
		}
		return nil, fmt.Errorf("collect: %w", err)
	}
	defer capture.Release()

	report.Result = p.engine.Evaluate(ctx, capture.Observation())
	report.Duration = p.now().Sub(start)

	return &ScanResult{Report: report}, nil
}

// ScanSource checks the .env file of a local directory. It never fails;
// a missing or unreadable file gives a false verdict.
func (p *Pipeline) ScanSource(dir string) *model.Report {
	start := p.now()
	report := p.newReport(model.ScanKindSourceCode, dir, start)

	res := envcheck.Check(dir)
	report.Result = p.sourceResult(res)
	report.Duration = p.now().Sub(start)
	if res.Err != nil {
		report.Error = res.Err.Error()
	}
	return report
}

// sourceResult logs the .env diagnostics and converts them to a ScanResult
func (p *Pipeline) sourceResult(res envcheck.Result) model.ScanResult {
	switch {
	case errors.Is(res.Err, envcheck.ErrEnvFileMissing):
		p.logger.Error("Error: .env file not found in the specified directory.", zap.String("path", res.Path))
	case res.Err != nil:
		p.logger.Error("Error reading .env file", zap.String("path", res.Path), zap.Error(res.Err))
	case res.Detected:
		p.logger.Warn("Warning: Detected NODE_ENV=development in .env file.", zap.String("path", res.Path))
	default:
		p.logger.Debug("No development environment detected in .env file.",
			zap.String("path", res.Path),
			zap.String("node_env", res.NodeEnv))
	}

	result := model.ScanResult{Verdict: res.Detected}
	if res.Detected {
		result.Findings = []model.Finding{{
			Check:      model.CheckEnvMarker,
			Provenance: model.ProvenanceEnvFile,
			URL:        res.Path,
			Markers:    []string{envcheck.DevelopmentMarker},
		}}
	}
	return result
}

// WatchSource re-checks dir every time its .env file changes and hands each
// report to fn, until ctx is cancelled.
func (p *Pipeline) WatchSource(ctx context.Context, dir string, fn func(*model.Report)) error {
	return envcheck.Watch(ctx, dir, func(res envcheck.Result) {
		report := p.newReport(model.ScanKindSourceCode, dir, p.now())
		report.Result = p.sourceResult(res)
		if res.Err != nil {
			report.Error = res.Err.Error()
		}
		fn(report)
	})
}

// RenderReport renders the report to the specified outputs
func (p *Pipeline) RenderReport(report *model.Report, jsonPath string, mdPath string) error {
	if jsonPath != "" {
		if err := p.renderer.RenderJSON(report, jsonPath); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		p.logger.Debug("Wrote JSON report", zap.String("path", jsonPath))
	}

	if mdPath != "" {
		if err := p.renderer.RenderMarkdown(report, mdPath); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		p.logger.Debug("Wrote Markdown report", zap.String("path", mdPath))
	}

	return nil
}

// Close releases the collector
func (p *Pipeline) Close() error {
	if p.collector == nil {
		return nil
	}
	return p.collector.Close()
}

func (p *Pipeline) newReport(kind model.ScanKind, target string, start time.Time) *model.Report {
	return &model.Report{
		ID:        uuid.NewString(),
		Kind:      kind,
		Target:    target,
		StartedAt: start.UTC(),
	}
}
