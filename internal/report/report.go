// Package report renders a completed run into durable artifacts and
// dispatches best-effort notifications.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/david-crosby/macmocker/internal/config"
	"github.com/david-crosby/macmocker/internal/result"
)

// Report file names inside the run directory. The directory itself carries
// the timestamp, so the names stay stable and scriptable.
const (
	TextReportName = "report.txt"
	JSONReportName = "report.json"
)

// Reporter writes run artifacts and dispatches notifications.
type Reporter struct {
	opts   config.Reporting
	logger *slog.Logger
	client *http.Client
}

// New constructs a reporter.
func New(opts config.Reporting, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		opts:   opts,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Document is the structured rendering written to disk and posted to the
// API sink: the aggregate summary plus the complete run record.
type Document struct {
	Summary result.Summary    `json:"summary"`
	Run     *result.RunResult `json:"run"`
}

// WriteFiles persists the text and JSON reports into the run's artifacts
// directory and returns their paths.
func (r *Reporter) WriteFiles(rr *result.RunResult) (textPath, jsonPath string, err error) {
	textPath = filepath.Join(rr.ArtifactsDir, TextReportName)
	if err := os.WriteFile(textPath, []byte(Render(rr)), 0o644); err != nil {
		return "", "", fmt.Errorf("write text report: %w", err)
	}
	doc := Document{Summary: rr.Summary(), Run: rr}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode json report: %w", err)
	}
	jsonPath = filepath.Join(rr.ArtifactsDir, JSONReportName)
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write json report: %w", err)
	}
	r.logger.Info("reports written", "text", textPath, "json", jsonPath)
	return textPath, jsonPath, nil
}

// Render produces the human-readable report.
func Render(rr *result.RunResult) string {
	summary := rr.Summary()
	banner := strings.Repeat("=", 72)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", banner)
	fmt.Fprintf(&b, "Verification Report: %s\n", rr.SuiteName)
	fmt.Fprintf(&b, "%s\n\n", banner)
	fmt.Fprintf(&b, "Started:  %s\n", rr.RunStartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Ended:    %s\n", rr.RunEndedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %.2fs\n", summary.DurationSeconds)
	if rr.Aborted {
		fmt.Fprintf(&b, "Aborted:  yes\n")
	}
	fmt.Fprintf(&b, "\nSummary: %d total, %d passed, %d failed, %d errors, %d timed out, %d skipped (%.1f%% pass rate)\n\n",
		summary.Total, summary.Passed, summary.Failed, summary.Errors, summary.TimedOut, summary.Skipped, summary.PassRate)
	fmt.Fprintf(&b, "%s\n", banner)

	for _, res := range rr.Results {
		fmt.Fprintf(&b, "%s %s [%s]\n", stateSymbol(res.State), res.Name, strings.ToUpper(string(res.State)))
		if d := res.Duration(); d > 0 {
			fmt.Fprintf(&b, "  Duration: %.2fs\n", d.Seconds())
		}
		if res.Message != "" {
			fmt.Fprintf(&b, "  Message: %s\n", res.Message)
		}
		if res.Detail != "" {
			fmt.Fprintf(&b, "  Detail: %s\n", indent(res.Detail, "    "))
		}
		if len(res.Artifacts) > 0 {
			fmt.Fprintf(&b, "  Artifacts: %s\n", strings.Join(res.Artifacts, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%s\n", banner)
	return b.String()
}

func stateSymbol(s result.State) string {
	switch s {
	case result.StatePassed:
		return "✓"
	case result.StateFailed, result.StateError, result.StateTimedOut:
		return "✗"
	case result.StateSkipped:
		return "○"
	default:
		return "?"
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= 1 {
		return s
	}
	return lines[0] + "\n" + prefix + strings.Join(lines[1:], "\n"+prefix)
}

// Prune removes run directories older than retentionDays under the
// artifacts root and returns how many were removed. It is an explicit
// maintenance operation; nothing calls it implicitly on a normal run.
func Prune(root string, retentionDays int, logger *slog.Logger) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("read artifacts root: %w", err)
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return removed, err
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		logger.Info("pruned run directory", "path", path, "age_days", int(time.Since(info.ModTime()).Hours()/24))
		removed++
	}
	return removed, nil
}
