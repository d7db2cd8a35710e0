package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/ppiankov/devcheck/internal/model"
)

// TimedOutLine is printed instead of a verdict when navigation timed out
const TimedOutLine = "Page load timed out."

// Renderer renders reports to various formats
type Renderer struct{}

// NewRenderer creates a new renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderSummary writes the single stdout line for a report
func (r *Renderer) RenderSummary(w io.Writer, report *model.Report) error {
	line := report.VerdictLine()
	if report.Result.TimedOut {
		line = TimedOutLine
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// RenderJSON writes the report as indented JSON
func (r *Renderer) RenderJSON(report *model.Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// RenderMarkdown writes a human-readable Markdown report
func (r *Renderer) RenderMarkdown(report *model.Report, path string) error {
	return writeFile(path, []byte(r.Markdown(report)))
}

// Markdown returns the Markdown form of a report
func (r *Renderer) Markdown(report *model.Report) string {
	var b strings.Builder
	res := report.Result

	fmt.Fprintf(&b, "# devcheck report: %s\n\n", report.Target)
	fmt.Fprintf(&b, "- **Kind:** %s\n", report.Kind)
	if report.Collector != "" {
		fmt.Fprintf(&b, "- **Collector:** %s\n", report.Collector)
	}
	fmt.Fprintf(&b, "- **Started:** %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- **Duration:** %s\n", report.Duration)
	fmt.Fprintf(&b, "- **Scan ID:** `%s`\n\n", report.ID)

	b.WriteString("## Verdict\n\n")
	if res.TimedOut {
		fmt.Fprintf(&b, "**%s** No verdict could be reached.\n\n", TimedOutLine)
	} else {
		fmt.Fprintf(&b, "**%s**\n\n", report.VerdictLine())
	}

	if report.Kind == model.ScanKindWebsite {
		b.WriteString("## Checks\n\n")
		b.WriteString(checksTable(res))
		b.WriteString("\n")
		if res.FetchFailures > 0 {
			fmt.Fprintf(&b, "%d script fetch(es) failed and were treated as non-matching.\n\n", res.FetchFailures)
		}
	}

	if len(res.Findings) > 0 {
		b.WriteString("## Findings\n\n")
		b.WriteString(findingsTable(res.Findings))
		b.WriteString("\n")
	}

	if report.Error != "" {
		fmt.Fprintf(&b, "## Error\n\n`%s`\n", report.Error)
	}

	return b.String()
}

func checksTable(res model.ScanResult) string {
	rows := [][]string{
		{"Development console output", yesNo(res.DevLogFound)},
		{"Source map served", yesNo(res.SourceMapFound)},
		{"Development script body", yesNo(res.DevFileFound)},
		{"Development page state", yesNo(res.DevByPagePredicate)},
	}
	return markdownTable([]string{"Check", "Result"}, rows)
}

func findingsTable(findings []model.Finding) string {
	rows := make([][]string, 0, len(findings))
	for _, f := range findings {
		detail := strings.Join(f.Markers, ", ")
		if f.Excerpt != "" {
			detail = f.Excerpt
		}
		rows = append(rows, []string{
			string(f.Check),
			string(f.Provenance),
			escapeCell(f.URL),
			escapeCell(detail),
		})
	}
	return markdownTable([]string{"Check", "Source", "URL", "Detail"}, rows)
}

func markdownTable(header []string, rows [][]string) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.AppendBulk(rows)
	table.Render()
	return buf.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
