package cli

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/ppiankov/devcheck/internal/browser"
	"github.com/ppiankov/devcheck/internal/cache"
	"github.com/ppiankov/devcheck/internal/model"
	"github.com/ppiankov/devcheck/internal/pipeline"
	"github.com/ppiankov/devcheck/internal/util"
	"github.com/ppiankov/devcheck/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	engineBrowser = "browser"
	engineHTTP    = "http"
)

// checkOptions holds the flags of a single check
type checkOptions struct {
	app *app

	scanType string
	engine   string
	outJSON  string
	outMD    string
	watch    bool
}

func (o *checkOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.scanType, "type", "", "target type: website or sourcecode")
	fs.StringVar(&o.engine, "engine", engineBrowser, "website collector: browser or http")
	fs.StringVar(&o.outJSON, "json", "", "write a JSON report to this path")
	fs.StringVar(&o.outMD, "md", "", "write a Markdown report to this path")
	fs.BoolVar(&o.watch, "watch", false, "re-check the .env file whenever it changes (sourcecode only)")
	fs.Duration("timeout", 30*time.Second, "page load timeout")
	fs.String("browser-url", "", "connect to a running Chrome DevTools endpoint instead of launching one")
	fs.String("browser-bin", "", "Chrome binary to launch (default: auto-detect or download)")
	fs.Bool("insecure", false, "skip TLS certificate verification (http engine)")
	fs.Bool("respect-robots", false, "honour robots.txt (http engine)")
	o.app.addNoCacheFlag(fs)
}

func (o *checkOptions) run(cmd *cobra.Command, args []string) error {
	target := args[0]

	switch model.ScanKind(o.scanType) {
	case model.ScanKindWebsite:
		if err := validateWebsiteURL(target); err != nil {
			return err
		}
		if o.watch {
			return errors.New("--watch only applies to --type sourcecode")
		}
		return o.runWebsite(cmd, target)
	case model.ScanKindSourceCode:
		return o.runSource(cmd, target)
	case "":
		return errors.New("missing --type parameter: must be either \"website\" or \"sourcecode\"")
	default:
		return fmt.Errorf("invalid type %q: must be either \"website\" or \"sourcecode\"", o.scanType)
	}
}

func (o *checkOptions) runWebsite(cmd *cobra.Command, target string) error {
	a := o.app
	collector, err := newCollector(a.cfg, o.engine, a.logger)
	if err != nil {
		return err
	}

	p := pipeline.NewPipeline(a.cfg, collector, a.logger)
	defer func() {
		if cerr := p.Close(); cerr != nil {
			a.logger.Debug("Collector close failed", zap.Error(cerr))
		}
	}()

	a.logger.Debug("Scanning",
		zap.String("url", target),
		zap.String("engine", collector.Name()),
		zap.Duration("page_timeout", a.cfg.Browser.PageTimeout))

	result, err := p.ScanURL(cmd.Context(), target)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	return o.finish(cmd.OutOrStdout(), p, result.Report)
}

func (o *checkOptions) runSource(cmd *cobra.Command, dir string) error {
	a := o.app
	p := pipeline.NewPipeline(a.cfg, nil, a.logger)

	if o.watch {
		errOut := cmd.ErrOrStderr()
		return p.WatchSource(cmd.Context(), dir, func(report *model.Report) {
			if err := o.finish(cmd.OutOrStdout(), p, report); err != nil {
				fmt.Fprintf(errOut, "Error: %v\n", err)
			}
		})
	}

	report := p.ScanSource(dir)
	return o.finish(cmd.OutOrStdout(), p, report)
}

// finish prints the verdict line and writes the requested reports
func (o *checkOptions) finish(out io.Writer, p *pipeline.Pipeline, report *model.Report) error {
	if err := pipeline.NewRenderer().RenderSummary(out, report); err != nil {
		return err
	}
	if err := p.RenderReport(report, o.outJSON, o.outMD); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	return nil
}

// validateWebsiteURL accepts absolute URLs with a scheme and a host
func validateWebsiteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid URL: %q", raw)
	}
	return nil
}

// newCollector builds the website collector selected by engine
func newCollector(cfg *model.Config, engine string, logger *zap.Logger) (pipeline.Collector, error) {
	switch engine {
	case engineBrowser:
		return browser.NewCollector(cfg.Browser, logger), nil
	case engineHTTP:
		h := cfg.HTTP
		fetcher := pipeline.NewFetcher(h.Timeout, h.UserAgent, h.MaxBodyBytes, h.InsecureTLS, h.HTTPProxy, h.HTTPSProxy, h.NoProxy)
		if rl := cfg.RateLimiting; rl.RequestsPerSecond > 0 {
			fetcher.WithLimiter(worker.NewLimiter(rl.RequestsPerSecond, rl.BurstSize))
		}
		if h.RespectRobots {
			fetcher.WithRobots(util.NewRobotsChecker(h.UserAgent, h.Timeout))
		}
		return pipeline.NewStaticCollector(fetcher, cache.New(cfg.Cache), cfg.Browser.PageTimeout, logger), nil
	default:
		return nil, fmt.Errorf("invalid engine %q: must be either %q or %q", engine, engineBrowser, engineHTTP)
	}
}
