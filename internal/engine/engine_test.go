package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/david-crosby/macmocker/internal/checks"
	"github.com/david-crosby/macmocker/internal/config"
	"github.com/david-crosby/macmocker/internal/result"
)

// fakeCheck scripts one test outcome for engine scenarios.
type fakeCheck struct {
	name string
	// sleep is how long Run blocks. When obeyCtx is set the sleep is cut
	// short by context cancellation; otherwise Run keeps sleeping the way a
	// stuck probe would.
	sleep   time.Duration
	obeyCtx bool
	outcome func(res *result.Result)
	started chan struct{}
}

func (c *fakeCheck) Name() string        { return c.name }
func (c *fakeCheck) Description() string { return "scripted outcome" }

func (c *fakeCheck) Run(ctx context.Context) *result.Result {
	if c.started != nil {
		close(c.started)
	}
	res := result.New(c.name, c.Description())
	res.MarkStarted()
	if c.sleep > 0 {
		if c.obeyCtx {
			select {
			case <-time.After(c.sleep):
			case <-ctx.Done():
			}
		} else {
			time.Sleep(c.sleep)
		}
	}
	if c.outcome != nil {
		c.outcome(res)
	}
	return res
}

type panicCheck struct{ fakeCheck }

func (c *panicCheck) Run(ctx context.Context) *result.Result {
	panic("probe exploded")
}

// nonTerminalCheck returns without finishing its result.
type nonTerminalCheck struct{ fakeCheck }

func (c *nonTerminalCheck) Run(ctx context.Context) *result.Result {
	res := result.New(c.name, c.Description())
	res.MarkStarted()
	return res
}

// doubleMarkCheck marks two terminal states, breaking write-once.
type doubleMarkCheck struct{ fakeCheck }

func (c *doubleMarkCheck) Run(ctx context.Context) *result.Result {
	res := result.New(c.name, c.Description())
	res.MarkStarted()
	res.MarkPassed("first")
	res.MarkFailed("second", "")
	return res
}

func pass(res *result.Result)  { res.MarkPassed("ok") }
func fail(res *result.Result)  { res.MarkFailed("bad", "detail") }
func errTo(res *result.Result) { res.MarkError("boom", "") }

func registryWith(t *testing.T, checksByKind map[string]checks.Check) *checks.Registry {
	t.Helper()
	reg := checks.NewRegistry()
	for kind, check := range checksByKind {
		check := check
		err := reg.Register(kind, func(cfg checks.FactoryConfig, env checks.Environment) (checks.Check, error) {
			return check, nil
		})
		if err != nil {
			t.Fatalf("register %s: %v", kind, err)
		}
	}
	return reg
}

func testConfig(t *testing.T, globalTimeout time.Duration, tests ...config.TestConfig) *config.Config {
	t.Helper()
	return &config.Config{
		SuiteName:     "suite",
		ArtifactsDir:  t.TempDir(),
		GlobalTimeout: config.Duration{Duration: globalTimeout},
		Tests:         tests,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(kind string, timeout time.Duration) config.TestConfig {
	tc := config.TestConfig{Kind: kind, Name: kind}
	if timeout > 0 {
		tc.Timeout = &config.NullableDuration{Duration: timeout, Set: true}
	}
	return tc
}

func states(rr *result.RunResult) []result.State {
	out := make([]result.State, len(rr.Results))
	for i, res := range rr.Results {
		out[i] = res.State
	}
	return out
}

func TestRunAllPass(t *testing.T) {
	reg := registryWith(t, map[string]checks.Check{
		"a": &fakeCheck{name: "a", outcome: pass},
		"b": &fakeCheck{name: "b", outcome: pass},
		"c": &fakeCheck{name: "c", outcome: pass},
	})
	cfg := testConfig(t, time.Minute, entry("a", 0), entry("b", 0), entry("c", 0))

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	rr := eng.Run(context.Background())

	if rr.Aborted {
		t.Fatalf("clean run aborted")
	}
	if len(rr.Results) != 3 {
		t.Fatalf("results = %d", len(rr.Results))
	}
	for i, name := range []string{"a", "b", "c"} {
		if rr.Results[i].Name != name {
			t.Fatalf("result %d = %q, want %q", i, rr.Results[i].Name, name)
		}
		if rr.Results[i].State != result.StatePassed {
			t.Fatalf("result %q state = %s", name, rr.Results[i].State)
		}
	}
	if !rr.Summary().Clean() {
		t.Fatalf("all-pass run not clean")
	}
}

func TestRunContinuesPastFailures(t *testing.T) {
	reg := registryWith(t, map[string]checks.Check{
		"failing":  &fakeCheck{name: "failing", outcome: fail},
		"erroring": &fakeCheck{name: "erroring", outcome: errTo},
		"passing":  &fakeCheck{name: "passing", outcome: pass},
	})
	cfg := testConfig(t, time.Minute, entry("failing", 0), entry("erroring", 0), entry("passing", 0))

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	rr := eng.Run(context.Background())

	want := []result.State{result.StateFailed, result.StateError, result.StatePassed}
	got := states(rr)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
	if rr.Aborted {
		t.Fatalf("failures aborted the run")
	}
}

func TestRunPerTestTimeout(t *testing.T) {
	reg := registryWith(t, map[string]checks.Check{
		"stuck": &fakeCheck{name: "stuck", sleep: 5 * time.Second, outcome: pass},
		"next":  &fakeCheck{name: "next", outcome: pass},
	})
	cfg := testConfig(t, time.Minute, entry("stuck", 50*time.Millisecond), entry("next", 0))

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	start := time.Now()
	rr := eng.Run(context.Background())

	if rr.Results[0].State != result.StateTimedOut {
		t.Fatalf("stuck test state = %s", rr.Results[0].State)
	}
	if rr.Results[0].Message != "timed out after 50ms" {
		t.Fatalf("timeout message = %q", rr.Results[0].Message)
	}
	if rr.Results[1].State != result.StatePassed {
		t.Fatalf("next test state = %s", rr.Results[1].State)
	}
	if rr.Aborted {
		t.Fatalf("per-test timeout aborted the run")
	}
	// The run must not wait for the abandoned worker's full sleep.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("run waited %s for abandoned worker", elapsed)
	}
}

func TestRunGlobalTimeoutSkipsRemaining(t *testing.T) {
	reg := registryWith(t, map[string]checks.Check{
		"slow":  &fakeCheck{name: "slow", sleep: 300 * time.Millisecond, outcome: pass},
		"never": &fakeCheck{name: "never", outcome: pass},
		"also":  &fakeCheck{name: "also", outcome: pass},
	})
	cfg := testConfig(t, 100*time.Millisecond, entry("slow", time.Minute), entry("never", 0), entry("also", 0))

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	rr := eng.Run(context.Background())

	if !rr.Aborted {
		t.Fatalf("global timeout did not abort")
	}
	if len(rr.Results) != 3 {
		t.Fatalf("results = %d, want one per configured test", len(rr.Results))
	}
	if rr.Results[0].State != result.StateTimedOut {
		t.Fatalf("in-flight test state = %s", rr.Results[0].State)
	}
	for _, res := range rr.Results[1:] {
		if res.State != result.StateSkipped {
			t.Fatalf("remaining test %q state = %s", res.Name, res.State)
		}
		if res.Message != "run aborted before execution" {
			t.Fatalf("skip message = %q", res.Message)
		}
	}
	if rr.Summary().Clean() {
		t.Fatalf("aborted run reported clean")
	}
}

func TestRunInterruptMarksInFlightTest(t *testing.T) {
	started := make(chan struct{})
	reg := registryWith(t, map[string]checks.Check{
		"running": &fakeCheck{name: "running", sleep: 5 * time.Second, outcome: pass, started: started},
		"queued":  &fakeCheck{name: "queued", outcome: pass},
	})
	cfg := testConfig(t, time.Minute, entry("running", time.Minute), entry("queued", 0))

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	rr := eng.Run(ctx)

	if !rr.Aborted {
		t.Fatalf("interrupt did not abort")
	}
	if rr.Results[0].State != result.StateTimedOut {
		t.Fatalf("interrupted test state = %s", rr.Results[0].State)
	}
	if rr.Results[0].Message != "run interrupted while test was running" {
		t.Fatalf("interrupt message = %q", rr.Results[0].Message)
	}
	if rr.Results[1].State != result.StateSkipped {
		t.Fatalf("queued test state = %s", rr.Results[1].State)
	}
}

func TestRunInterruptDuringLastTestSetsAborted(t *testing.T) {
	started := make(chan struct{})
	reg := registryWith(t, map[string]checks.Check{
		"final": &fakeCheck{name: "final", sleep: 5 * time.Second, outcome: pass, started: started},
	})
	cfg := testConfig(t, time.Minute, entry("final", time.Minute))

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	rr := eng.Run(ctx)

	if rr.Results[0].State != result.StateTimedOut {
		t.Fatalf("interrupted final test state = %s", rr.Results[0].State)
	}
	if !rr.Aborted {
		t.Fatalf("interrupt during final test did not flag the run aborted")
	}
	if rr.Summary().Clean() {
		t.Fatalf("interrupted run reported clean")
	}
}

func TestRunGlobalTimeoutDuringLastTestSetsAborted(t *testing.T) {
	reg := registryWith(t, map[string]checks.Check{
		"final": &fakeCheck{name: "final", sleep: 2 * time.Second, outcome: pass},
	})
	cfg := testConfig(t, 100*time.Millisecond, entry("final", time.Minute))

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	rr := eng.Run(context.Background())

	if len(rr.Results) != 1 {
		t.Fatalf("results = %d", len(rr.Results))
	}
	if rr.Results[0].State != result.StateTimedOut {
		t.Fatalf("final test state = %s", rr.Results[0].State)
	}
	if !rr.Aborted {
		t.Fatalf("global timeout during final test did not flag the run aborted")
	}
}

func TestRunCanceledBeforeStartSkipsEverything(t *testing.T) {
	reg := registryWith(t, map[string]checks.Check{
		"a": &fakeCheck{name: "a", outcome: pass},
	})
	cfg := testConfig(t, time.Minute, entry("a", 0))

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rr := eng.Run(ctx)

	if !rr.Aborted {
		t.Fatalf("pre-canceled run not aborted")
	}
	if rr.Results[0].State != result.StateSkipped {
		t.Fatalf("state = %s", rr.Results[0].State)
	}
}

func TestRunPanicBecomesError(t *testing.T) {
	reg := registryWith(t, map[string]checks.Check{
		"bomb": &panicCheck{fakeCheck{name: "bomb"}},
		"next": &fakeCheck{name: "next", outcome: pass},
	})
	cfg := testConfig(t, time.Minute, entry("bomb", 0), entry("next", 0))

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	rr := eng.Run(context.Background())

	if rr.Results[0].State != result.StateError {
		t.Fatalf("panicking test state = %s", rr.Results[0].State)
	}
	if rr.Results[1].State != result.StatePassed {
		t.Fatalf("run did not continue after panic: %s", rr.Results[1].State)
	}
}

func TestRunNonTerminalResultBecomesError(t *testing.T) {
	reg := registryWith(t, map[string]checks.Check{
		"hanging": &nonTerminalCheck{fakeCheck{name: "hanging"}},
	})
	cfg := testConfig(t, time.Minute, entry("hanging", 0))

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	rr := eng.Run(context.Background())

	res := rr.Results[0]
	if res.State != result.StateError {
		t.Fatalf("state = %s", res.State)
	}
	if res.Message != "test did not report a terminal state" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestRunContractViolationBecomesError(t *testing.T) {
	reg := registryWith(t, map[string]checks.Check{
		"greedy": &doubleMarkCheck{fakeCheck{name: "greedy"}},
	})
	cfg := testConfig(t, time.Minute, entry("greedy", 0))

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	rr := eng.Run(context.Background())

	res := rr.Results[0]
	if res.State != result.StateError {
		t.Fatalf("state = %s", res.State)
	}
	if res.Message != "test violated the result contract" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestRunAppliesInterTestDelay(t *testing.T) {
	reg := registryWith(t, map[string]checks.Check{
		"a": &fakeCheck{name: "a", outcome: pass},
		"b": &fakeCheck{name: "b", outcome: pass},
	})
	delayed := entry("a", 0)
	delayed.DelayAfter = config.Duration{Duration: 150 * time.Millisecond}
	cfg := testConfig(t, time.Minute, delayed, entry("b", 0))

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	start := time.Now()
	rr := eng.Run(context.Background())
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("run finished in %s, delay not applied", elapsed)
	}
	if rr.Aborted {
		t.Fatalf("delayed run aborted")
	}
}

func TestRunSkipsDelayAfterLastTest(t *testing.T) {
	reg := registryWith(t, map[string]checks.Check{
		"only": &fakeCheck{name: "only", outcome: pass},
	})
	last := entry("only", 0)
	last.DelayAfter = config.Duration{Duration: 5 * time.Second}
	cfg := testConfig(t, time.Minute, last)

	eng, err := New(cfg, reg, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	start := time.Now()
	eng.Run(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("trailing delay applied: %s", elapsed)
	}
}

func TestNewFailsOnLoadError(t *testing.T) {
	reg := registryWith(t, map[string]checks.Check{
		"a": &fakeCheck{name: "a", outcome: pass},
	})
	cfg := testConfig(t, time.Minute, entry("unknown", 0))
	if _, err := New(cfg, reg, testLogger()); err == nil {
		t.Fatalf("unknown kind accepted")
	}

	cfg = testConfig(t, time.Minute)
	if _, err := New(cfg, reg, testLogger()); err == nil {
		t.Fatalf("empty test list accepted")
	}
}
