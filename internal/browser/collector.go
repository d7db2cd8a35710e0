// Package browser collects development-build artifacts from a live page
// using a headless Chrome driven over the DevTools protocol.
package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ppiankov/devcheck/internal/model"
	"go.uber.org/zap"
)

const (
	scriptsJS = `() => Array.from(document.scripts).map(s => s.src)`

	fetchJS = `(u) => fetch(u).then(r => r.text())`

	predicateJS = `() => ({
		devtools_hook: typeof __REACT_DEVTOOLS_GLOBAL_HOOK__ !== 'undefined',
		webpack_script_tag: document.querySelector('script[src*="webpack://"]') !== null,
		react_dev_script_tag: document.querySelector('script[src*="react.development.js"]') !== null,
	})`
)

// Collector owns one Chrome instance. Each Collect call gets its own
// incognito context, so concurrent collections do not share state.
type Collector struct {
	cfg    model.BrowserConfig
	logger *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewCollector creates a collector. Chrome is started lazily on first use.
func NewCollector(cfg model.BrowserConfig, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{cfg: cfg, logger: logger}
}

// Name identifies the collector in reports
func (c *Collector) Name() string { return "browser" }

// Start connects to the configured DevTools endpoint or launches Chrome
func (c *Collector) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		if _, err := c.browser.Version(); err == nil {
			return nil
		}
		c.logger.Debug("Stale browser connection detected, reconnecting")
		c.closeLocked()
	}

	controlURL := c.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(c.cfg.Headless)
		if c.cfg.Bin != "" {
			l = l.Bin(c.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		c.launcher = l
		controlURL = u
	}

	// The connection outlives any single scan context
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		c.cleanupLauncher()
		return fmt.Errorf("connect to chrome: %w", err)
	}

	c.browser = b
	c.logger.Debug("Browser connected", zap.String("control_url", controlURL))
	return nil
}

// Close shuts the browser down. It is safe to call more than once.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Collector) closeLocked() error {
	var err error
	if c.browser != nil {
		err = c.browser.Close()
		c.browser = nil
	}
	c.cleanupLauncher()
	return err
}

func (c *Collector) cleanupLauncher() {
	if c.launcher != nil {
		c.launcher.Kill()
		c.launcher.Cleanup()
		c.launcher = nil
	}
}

// Collect loads target, records console output and network responses until
// the network goes idle, and returns the observation. ErrNavigationTimeout
// is returned when the page does not load within the page timeout, and
// ErrNavigationFailed when it cannot be loaded at all.
func (c *Collector) Collect(ctx context.Context, target string) (model.Capture, error) {
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	b := c.browser
	c.mu.Unlock()

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	capture := &pageCapture{
		incognito: incognito,
		raw:       page,
		page:      page.Context(ctx),
		rec:       &recorder{},
	}
	page = capture.page

	evCtx, stopEvents := context.WithCancel(ctx)
	capture.stopEvents = stopEvents
	waitEvents := page.Context(evCtx).EachEvent(
		func(ev *proto.RuntimeConsoleAPICalled) {
			capture.rec.addConsole(stringifyConsoleArgs(ev.Args))
		},
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response != nil {
				capture.rec.addResponse(ev.RequestID, ev.Response.URL)
			}
		},
	)
	capture.eventsDone = make(chan struct{})
	go func() {
		defer close(capture.eventsDone)
		waitEvents()
	}()

	if err := c.navigate(ctx, page, target); err != nil {
		capture.Release()
		return nil, err
	}

	obs, err := capture.build(ctx, target)
	if err != nil {
		capture.Release()
		return nil, err
	}
	capture.obs = obs

	return capture, nil
}

// navigate loads the page and waits for network idle under the page timeout
func (c *Collector) navigate(ctx context.Context, page *rod.Page, target string) error {
	timeout := c.cfg.PageTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	idle := c.cfg.IdleWindow
	if idle <= 0 {
		idle = 500 * time.Millisecond
	}

	nav := page.Timeout(timeout)
	defer nav.CancelTimeout()

	waitIdle := nav.WaitRequestIdle(idle, nil, nil, nil)

	err := nav.Navigate(target)
	if err == nil {
		err = nav.WaitLoad()
	}
	if err == nil {
		waitIdle()
	}

	if navErr := nav.GetContext().Err(); navErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return model.ErrNavigationTimeout
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.ErrNavigationTimeout
		}
		return fmt.Errorf("%w: navigate %s: %w", model.ErrNavigationFailed, target, err)
	}
	return nil
}

// pageCapture keeps the page alive while its response and fetch accessors
// are in use.
type pageCapture struct {
	incognito  *rod.Browser
	raw        *rod.Page // not bound to the scan context, used for cleanup
	page       *rod.Page
	rec        *recorder
	obs        model.Observation
	stopEvents context.CancelFunc
	eventsDone chan struct{}
	releaseOne sync.Once
}

func (p *pageCapture) Observation() model.Observation { return p.obs }

func (p *pageCapture) Release() {
	p.releaseOne.Do(func() {
		p.stopEvents()
		<-p.eventsDone
		_ = p.raw.Close()
		_ = p.incognito.Close()
	})
}

func (p *pageCapture) build(ctx context.Context, target string) (model.Observation, error) {
	scripts, err := p.scriptURLs()
	if err != nil {
		return model.Observation{}, fmt.Errorf("enumerate scripts: %w", err)
	}

	state, err := p.pageState()
	if err != nil {
		return model.Observation{}, fmt.Errorf("evaluate page predicate: %w", err)
	}

	logs, responses := p.rec.snapshot()
	obs := model.Observation{
		URL:         target,
		ConsoleLogs: logs,
		ScriptURLs:  scripts,
		Fetch:       p.fetch,
		Page:        state,
	}
	for _, r := range responses {
		obs.Responses = append(obs.Responses, model.Response{
			URL:     r.url,
			Content: p.responseBody(r.id),
		})
	}
	return obs, nil
}

func (p *pageCapture) scriptURLs() ([]string, error) {
	res, err := p.page.Eval(scriptsJS)
	if err != nil {
		return nil, err
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var srcs []string
	if err := json.Unmarshal(raw, &srcs); err != nil {
		return nil, err
	}
	return srcs, nil
}

func (p *pageCapture) pageState() (model.PageState, error) {
	var state model.PageState
	res, err := p.page.Eval(predicateJS)
	if err != nil {
		return state, err
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return state, err
	}
	err = json.Unmarshal(raw, &state)
	return state, err
}

// fetch retrieves url from inside the page so cookies and origin match
func (p *pageCapture) fetch(ctx context.Context, url string) (string, error) {
	res, err := p.page.Context(ctx).Evaluate(rod.Eval(fetchJS, url).ByPromise())
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *pageCapture) responseBody(id proto.NetworkRequestID) model.ContentFunc {
	return func() (string, error) {
		body, err := proto.NetworkGetResponseBody{RequestID: id}.Call(p.page)
		if err != nil {
			return "", err
		}
		if body.Base64Encoded {
			data, err := base64.StdEncoding.DecodeString(body.Body)
			if err != nil {
				return "", fmt.Errorf("decode body: %w", err)
			}
			return string(data), nil
		}
		return body.Body, nil
	}
}

type observedResponse struct {
	id  proto.NetworkRequestID
	url string
}

// recorder accumulates events delivered on the CDP event goroutine
type recorder struct {
	mu        sync.Mutex
	logs      []string
	responses []observedResponse
}

func (r *recorder) addConsole(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, line)
}

func (r *recorder) addResponse(id proto.NetworkRequestID, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, observedResponse{id: id, url: url})
}

// snapshot returns copies so the observation stays immutable while
// late events keep arriving.
func (r *recorder) snapshot() ([]string, []observedResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logs...), append([]observedResponse(nil), r.responses...)
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}
