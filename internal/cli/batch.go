package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/ppiankov/devcheck/internal/pipeline"
	"github.com/ppiankov/devcheck/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// batchOptions holds the flags of the batch command
type batchOptions struct {
	app *app

	engine       string
	outputDir    string
	batchTimeout time.Duration
}

// newBatchCmd represents the batch command
func newBatchCmd(a *app) *cobra.Command {
	o := &batchOptions{app: a}

	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Check many websites from a file in parallel",
		Long: `Batch checks websites concurrently:
- Read URLs from the input file (one per line, '#' starts a comment)
- Scan them with a bounded number of workers, pacing requests per domain
- Write a JSON and a Markdown report per URL
- Print a summary table of verdicts

Example:
  devcheck batch urls.txt
  devcheck batch urls.txt --concurrency 8 --output-dir ./reports
  devcheck batch urls.txt --engine http --batch-timeout 20m`,
		Args: cobra.ExactArgs(1),
		RunE: o.run,
	}

	fs := cmd.Flags()
	fs.Int("concurrency", 4, "number of concurrent scans")
	fs.StringVar(&o.outputDir, "output-dir", "./devcheck-reports", "output directory for reports")
	fs.StringVar(&o.engine, "engine", engineBrowser, "website collector: browser or http")
	fs.DurationVar(&o.batchTimeout, "batch-timeout", 30*time.Minute, "total timeout for the batch")
	fs.Duration("timeout", 30*time.Second, "page load timeout for each scan")
	fs.String("browser-url", "", "connect to a running Chrome DevTools endpoint instead of launching one")
	fs.Bool("insecure", false, "skip TLS certificate verification (http engine)")
	fs.Bool("respect-robots", false, "honour robots.txt (http engine)")
	a.addNoCacheFlag(fs)

	return cmd
}

func (o *batchOptions) run(cmd *cobra.Command, args []string) error {
	a := o.app
	file := args[0]

	ctx, cancel := context.WithTimeout(cmd.Context(), o.batchTimeout)
	defer cancel()

	workers := a.cfg.Concurrency.Workers
	errOut := cmd.ErrOrStderr()

	fmt.Fprintf(errOut, "\n")
	fmt.Fprintf(errOut, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(errOut, "  devcheck Batch Processing\n")
	fmt.Fprintf(errOut, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(errOut, "\n")
	fmt.Fprintf(errOut, "  Input file:   %s\n", file)
	fmt.Fprintf(errOut, "  Workers:      %d\n", workers)
	fmt.Fprintf(errOut, "  Engine:       %s\n", o.engine)
	fmt.Fprintf(errOut, "  Output dir:   %s\n", o.outputDir)
	fmt.Fprintf(errOut, "  Timeout:      %v\n", o.batchTimeout)
	fmt.Fprintf(errOut, "\n")

	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

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

	// The static collector paces its own requests; scans are paced for the browser
	rps := a.cfg.RateLimiting.RequestsPerSecond
	if o.engine == engineHTTP {
		rps = 0
	}
	processor := worker.NewBatchProcessor(p, workers, rps, a.cfg.RateLimiting.BurstSize)

	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	renderer := pipeline.NewRenderer()
	rows := make([][]string, 0, len(results))
	successCount, failureCount, devCount := 0, 0, 0
	slugs := make(map[string]int)

	for _, result := range results {
		if result.Error != nil {
			failureCount++
			fmt.Fprintf(errOut, "✗ %s: %v\n", result.URL, result.Error)
			rows = append(rows, []string{result.URL, "error"})
			continue
		}

		successCount++
		report := result.Report
		if report.Result.Verdict {
			devCount++
		}

		slug := sanitizeFilename(result.URL)
		if n := slugs[slug]; n > 0 {
			slugs[slug] = n + 1
			slug = fmt.Sprintf("%s-%d", slug, n+1)
		} else {
			slugs[slug] = 1
		}
		if err := renderer.RenderJSON(report, filepath.Join(o.outputDir, slug+".json")); err != nil {
			fmt.Fprintf(errOut, "✗ %s: failed to write JSON: %v\n", result.URL, err)
		}
		if err := renderer.RenderMarkdown(report, filepath.Join(o.outputDir, slug+".md")); err != nil {
			fmt.Fprintf(errOut, "✗ %s: failed to write Markdown: %v\n", result.URL, err)
		}

		line := report.VerdictLine()
		if report.Result.TimedOut {
			line = pipeline.TimedOutLine
		}
		rows = append(rows, []string{result.URL, line})
	}

	renderBatchTable(cmd.OutOrStdout(), rows)

	fmt.Fprintf(errOut, "\n")
	fmt.Fprintf(errOut, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(errOut, "  Batch Complete\n")
	fmt.Fprintf(errOut, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(errOut, "\n")
	fmt.Fprintf(errOut, "  Total:        %d URLs\n", len(results))
	fmt.Fprintf(errOut, "  Scanned:      %d\n", successCount)
	fmt.Fprintf(errOut, "  Development:  %d\n", devCount)
	fmt.Fprintf(errOut, "  Failures:     %d\n", failureCount)
	fmt.Fprintf(errOut, "  Output:       %s\n", o.outputDir)
	fmt.Fprintf(errOut, "\n")

	return nil
}

func renderBatchTable(w io.Writer, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"URL", "Result"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})
	table.AppendBulk(rows)
	table.Render()
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "-",
	"&", "_",
	"=", "_",
)

// sanitizeFilename turns a URL into a file name without path separators
func sanitizeFilename(raw string) string {
	s := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		s = u.Host + strings.TrimSuffix(u.EscapedPath(), "/")
		if u.RawQuery != "" {
			s += "?" + u.RawQuery
		}
	}

	s = strings.Trim(filenameReplacer.Replace(s), "._-")
	if s == "" {
		s = "report"
	}
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
