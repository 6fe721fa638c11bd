// Package engine executes a loaded test list sequentially, bounding every
// test with a worker-and-deadline pattern and assembling the run's results.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/david-crosby/macmocker/internal/checks"
	"github.com/david-crosby/macmocker/internal/config"
	"github.com/david-crosby/macmocker/internal/result"
)

// skippedMessage is recorded on every test not attempted because the run
// aborted first.
const skippedMessage = "run aborted before execution"

// Engine owns one run: the loaded instances, the run's artifacts directory
// and the timeout budget.
type Engine struct {
	cfg       *config.Config
	instances []*checks.Instance
	runDir    string
	logger    *slog.Logger
}

// New creates the run's artifacts directory and loads every configured test
// up front. Either failing is fatal: no test is attempted and no results are
// produced.
func New(cfg *config.Config, reg *checks.Registry, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	runDir := RunDir(cfg.ArtifactsDir, cfg.SuiteName, time.Now())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts directory %s: %w", runDir, err)
	}
	env := checks.Environment{
		Logger:     logger,
		HTTPClient: &http.Client{},
	}
	instances, err := checks.Load(reg, cfg.Tests, runDir, env, time.Now())
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		instances: instances,
		runDir:    runDir,
		logger:    logger,
	}, nil
}

// RunDir names the per-run artifacts directory. The timestamp component
// keeps directories unique per run and lexically ordered, so the latest run
// is always discoverable.
func RunDir(root, suite string, t time.Time) string {
	return filepath.Join(root, fmt.Sprintf("%s_%s", checks.SafeName(suite), t.Format("20060102_150405")))
}

// ArtifactsDir returns the directory this run writes into.
func (e *Engine) ArtifactsDir() string {
	return e.runDir
}

// Run executes every loaded test in configured order. Exactly one test is in
// flight at a time; concurrency exists only inside runOne to bound a single
// test's duration. The returned RunResult always carries one Result per
// loaded test, in order, whatever happened to the run.
func (e *Engine) Run(ctx context.Context) *result.RunResult {
	rr := &result.RunResult{
		SuiteName:    e.cfg.SuiteName,
		RunStartedAt: time.Now(),
		ArtifactsDir: e.runDir,
		Results:      make([]*result.Result, 0, len(e.instances)),
	}
	var deadline time.Time
	if e.cfg.GlobalTimeout.Duration > 0 {
		deadline = rr.RunStartedAt.Add(e.cfg.GlobalTimeout.Duration)
	}

	e.logger.Info("run started", "suite", e.cfg.SuiteName, "tests", len(e.instances), "artifacts_dir", e.runDir)

	for i, inst := range e.instances {
		if reason := abortReason(ctx, deadline); reason != "" {
			e.abort(rr, i, reason)
			break
		}

		e.logger.Info("starting test", "test", inst.Check.Name(), "position", fmt.Sprintf("%d/%d", i+1, len(e.instances)), "timeout", inst.Timeout)
		res := e.runOne(ctx, inst, deadline)
		rr.Results = append(rr.Results, res)
		e.logResult(res)

		last := i == len(e.instances)-1
		if !last && inst.DelayAfter > 0 && abortReason(ctx, deadline) == "" {
			e.pause(ctx, inst.DelayAfter)
		}
	}

	// An interrupt or global-timeout expiry that lands while the final test
	// is in flight leaves nothing to skip but still truncated the run.
	if reason := abortReason(ctx, deadline); reason != "" && !rr.Aborted {
		rr.Aborted = true
		e.logger.Warn("run aborted", "reason", reason, "skipped", 0)
	}

	rr.RunEndedAt = time.Now()
	return rr
}

// abort records a Skipped result for every test from index on and flags the
// run. Partial results already collected are kept.
func (e *Engine) abort(rr *result.RunResult, from int, reason string) {
	rr.Aborted = true
	e.logger.Warn("aborting run", "reason", reason, "skipped", len(e.instances)-from)
	for _, inst := range e.instances[from:] {
		res := result.New(inst.Check.Name(), inst.Check.Description())
		res.MarkSkipped(skippedMessage)
		rr.Results = append(rr.Results, res)
	}
}

// abortReason reports why the run must stop before attempting another test,
// or "" to proceed. An operator interrupt and global-timeout expiry are
// handled identically downstream.
func abortReason(ctx context.Context, deadline time.Time) string {
	if ctx.Err() != nil {
		return "interrupt requested"
	}
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return "global timeout exceeded"
	}
	return ""
}

// runOne executes a single test on a dedicated worker goroutine, bounded by
// the smaller of the test's own timeout and the remaining global budget. The
// bound is also wired into the worker's context so cooperative checks stop
// early; a check that ignores it is abandoned and its eventual result, if
// any, discarded.
func (e *Engine) runOne(ctx context.Context, inst *checks.Instance, deadline time.Time) *result.Result {
	bound := inst.Timeout
	if !deadline.IsZero() {
		if remaining := time.Until(deadline); remaining < bound {
			bound = remaining
		}
	}

	placeholder := result.New(inst.Check.Name(), inst.Check.Description())
	placeholder.MarkStarted()

	workerCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	done := make(chan *result.Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				res := result.New(inst.Check.Name(), inst.Check.Description())
				res.MarkStarted()
				res.MarkError("test panicked", fmt.Sprint(rec))
				done <- res
			}
		}()
		done <- inst.Check.Run(workerCtx)
	}()

	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case res := <-done:
		return e.adopt(inst, res)
	case <-timer.C:
		// The message names the test's own configured timeout even when the
		// global budget supplied the effective bound.
		placeholder.MarkTimedOut(fmt.Sprintf("timed out after %s", inst.Timeout))
		return placeholder
	case <-ctx.Done():
		placeholder.MarkTimedOut("run interrupted while test was running")
		return placeholder
	}
}

// adopt validates a result the worker handed back. A test that breaks the
// result contract must not crash or fail the whole run, so every violation
// is downgraded to an error outcome for that test alone.
func (e *Engine) adopt(inst *checks.Instance, res *result.Result) *result.Result {
	name, desc := inst.Check.Name(), inst.Check.Description()
	if res == nil {
		return errorResult(name, desc, "test returned no result", "")
	}
	if violation := res.Violation(); violation != nil {
		return errorResult(name, desc, "test violated the result contract", violation.Error())
	}
	if !res.State.Terminal() {
		return errorResult(name, desc, "test did not report a terminal state", fmt.Sprintf("state %q on return", res.State))
	}
	return res
}

func errorResult(name, desc, message, detail string) *result.Result {
	res := result.New(name, desc)
	res.MarkStarted()
	res.MarkError(message, detail)
	return res
}

// pause applies the configured inter-test delay, cut short by an interrupt.
func (e *Engine) pause(ctx context.Context, delay time.Duration) {
	e.logger.Debug("inter-test delay", "delay", delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (e *Engine) logResult(res *result.Result) {
	attrs := []any{
		"test", res.Name,
		"state", string(res.State),
		"duration", res.Duration().Round(time.Millisecond),
	}
	if res.Message != "" {
		attrs = append(attrs, "message", res.Message)
	}
	switch res.State {
	case result.StatePassed:
		e.logger.Info("test passed", attrs...)
	case result.StateFailed, result.StateError, result.StateTimedOut:
		e.logger.Error("test "+strings.ReplaceAll(string(res.State), "_", " "), attrs...)
	default:
		e.logger.Warn("test finished in unexpected state", attrs...)
	}
}
