package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/devcheck/internal/model"
	"github.com/ppiankov/devcheck/internal/pipeline"
)

// Scanner defines the interface for scanning a URL
type Scanner interface {
	ScanURL(ctx context.Context, url string) (*pipeline.ScanResult, error)
}

// ScanJob represents a URL scan job
type ScanJob struct {
	URL     string
	Scanner Scanner
	Limiter *Limiter
}

// Execute waits for the URL's domain to be clear and scans it
func (j *ScanJob) Execute(ctx context.Context) Result {
	if j.Limiter != nil {
		if err := j.Limiter.Wait(ctx, j.URL); err != nil {
			return &ScanResult{URL: j.URL, Error: fmt.Errorf("rate limit: %w", err)}
		}
	}

	result, err := j.Scanner.ScanURL(ctx, j.URL)
	if err != nil {
		return &ScanResult{URL: j.URL, Error: err}
	}
	return &ScanResult{URL: j.URL, Report: result.Report}
}

// ScanResult represents the result of a scan job
type ScanResult struct {
	URL    string
	Report *model.Report
	Error  error
}

// GetError returns the error from the scan result
func (r *ScanResult) GetError() error {
	return r.Error
}

// BatchProcessor scans many URLs concurrently
type BatchProcessor struct {
	scanner     Scanner
	concurrency int
	limiter     *Limiter
}

// NewBatchProcessor creates a batch processor. A non-positive
// requestsPerSecond disables per-domain pacing.
func NewBatchProcessor(scanner Scanner, concurrency int, requestsPerSecond float64, burst int) *BatchProcessor {
	b := &BatchProcessor{
		scanner:     scanner,
		concurrency: concurrency,
	}
	if requestsPerSecond > 0 {
		b.limiter = NewLimiter(requestsPerSecond, burst)
	}
	return b
}

// ProcessURLs scans urls and returns one result per URL in input order
func (b *BatchProcessor) ProcessURLs(ctx context.Context, urls []string) []*ScanResult {
	if len(urls) == 0 {
		return []*ScanResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for _, url := range urls {
		pool.Submit(&ScanJob{
			URL:     url,
			Scanner: b.scanner,
			Limiter: b.limiter,
		})
	}

	results := pool.Wait()

	scanResults := make([]*ScanResult, len(urls))
	for i, url := range urls {
		var res Result
		if i < len(results) {
			res = results[i]
		}
		switch r := res.(type) {
		case *ScanResult:
			scanResults[i] = r
		case nil:
			scanResults[i] = &ScanResult{URL: url, Error: fmt.Errorf("not scanned: %w", cancelCause(ctx))}
		default:
			scanResults[i] = &ScanResult{URL: url, Error: r.GetError()}
		}
	}

	return scanResults
}

func cancelCause(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	return context.Canceled
}

// ProcessFile reads URLs from a file and processes them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*ScanResult, error) {
	urls, err := ReadURLsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read URLs: %w", err)
	}

	return b.ProcessURLs(ctx, urls), nil
}

// ReadURLsFromFile reads URLs from a file, one per line. Blank lines and
// '#' comments are skipped and duplicates are dropped.
func ReadURLsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			urls = append(urls, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return urls, nil
}
