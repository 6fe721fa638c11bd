package checks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/david-crosby/macmocker/internal/config"
	"github.com/david-crosby/macmocker/internal/result"
)

type staticCheck struct {
	name string
}

func (c *staticCheck) Name() string        { return c.name }
func (c *staticCheck) Description() string { return "static" }

func (c *staticCheck) Run(ctx context.Context) *result.Result {
	res := result.New(c.name, "static")
	res.MarkStarted()
	res.MarkPassed("ok")
	return res
}

func staticFactory(cfg FactoryConfig, env Environment) (Check, error) {
	return &staticCheck{name: cfg.Name}, nil
}

func testEnv() Environment {
	return Environment{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	if err := reg.Register("static", staticFactory); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func boolPtr(v bool) *bool { return &v }

func TestRegistryRejectsDuplicateKind(t *testing.T) {
	reg := testRegistry(t)
	if err := reg.Register("static", staticFactory); err == nil {
		t.Fatalf("duplicate kind accepted")
	}
}

func TestDefaultsCatalog(t *testing.T) {
	reg := Defaults()
	for _, kind := range []string{"http", "dns", "ping", "tls", "command", "metrics"} {
		if _, ok := reg.Lookup(kind); !ok {
			t.Errorf("kind %q missing from catalog", kind)
		}
	}
}

func TestLoadResolvesInstancesInOrder(t *testing.T) {
	cfgs := []config.TestConfig{
		{Kind: "static", Name: "first", Timeout: &config.NullableDuration{Duration: 10 * time.Second, Set: true}},
		{Kind: "static", Name: "second", DelayAfter: config.Duration{Duration: time.Second}},
	}
	instances, err := Load(testRegistry(t), cfgs, t.TempDir(), testEnv(), time.Now())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("instances = %d", len(instances))
	}
	if instances[0].Check.Name() != "first" || instances[1].Check.Name() != "second" {
		t.Fatalf("order lost: %s, %s", instances[0].Check.Name(), instances[1].Check.Name())
	}
	if instances[0].Timeout != 10*time.Second {
		t.Fatalf("explicit timeout = %s", instances[0].Timeout)
	}
	if instances[1].Timeout != config.DefaultTestTimeout {
		t.Fatalf("default timeout = %s", instances[1].Timeout)
	}
	if instances[1].DelayAfter != time.Second {
		t.Fatalf("delay = %s", instances[1].DelayAfter)
	}
}

func TestLoadUnknownKindIsFatal(t *testing.T) {
	cfgs := []config.TestConfig{
		{Kind: "static", Name: "fine"},
		{Kind: "nosuch", Name: "broken"},
	}
	_, err := Load(testRegistry(t), cfgs, t.TempDir(), testEnv(), time.Now())
	if err == nil {
		t.Fatalf("unknown kind accepted")
	}
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("error type %T", err)
	}
	if loadErr.Identifier != "broken" {
		t.Fatalf("identifier = %q", loadErr.Identifier)
	}
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	cfgs := []config.TestConfig{
		{Kind: "static", Name: "t", Timeout: &config.NullableDuration{Duration: 0, Set: true}},
	}
	_, err := Load(testRegistry(t), cfgs, t.TempDir(), testEnv(), time.Now())
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("zero timeout: err = %v", err)
	}
}

func TestLoadFiltersDisabled(t *testing.T) {
	cfgs := []config.TestConfig{
		{Kind: "static", Name: "on"},
		{Kind: "static", Name: "off", Enabled: boolPtr(false)},
	}
	instances, err := Load(testRegistry(t), cfgs, t.TempDir(), testEnv(), time.Now())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(instances) != 1 || instances[0].Check.Name() != "on" {
		t.Fatalf("instances = %v", instances)
	}
}

func TestLoadDisabledKindNeedsNoFactory(t *testing.T) {
	cfgs := []config.TestConfig{
		{Kind: "static", Name: "on"},
		{Kind: "not-registered", Name: "off", Enabled: boolPtr(false)},
	}
	if _, err := Load(testRegistry(t), cfgs, t.TempDir(), testEnv(), time.Now()); err != nil {
		t.Fatalf("disabled entry with unknown kind rejected: %v", err)
	}
}

func TestLoadEmptyListIsError(t *testing.T) {
	_, err := Load(testRegistry(t), nil, t.TempDir(), testEnv(), time.Now())
	if err == nil {
		t.Fatalf("empty list accepted")
	}
	cfgs := []config.TestConfig{{Kind: "static", Name: "off", Enabled: boolPtr(false)}}
	if _, err := Load(testRegistry(t), cfgs, t.TempDir(), testEnv(), time.Now()); err == nil {
		t.Fatalf("all-disabled list accepted")
	}
}

func TestLoadFiltersMaintenanceRange(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.Local)
	cfgs := []config.TestConfig{
		{Kind: "static", Name: "kept"},
		{Kind: "static", Name: "windowed", SkipDuring: []config.MaintenanceSpec{
			{Kind: config.MaintenanceKindRange, Expr: "2026-08-01T00:00-2026-08-02T00:00"},
		}},
	}
	instances, err := Load(testRegistry(t), cfgs, t.TempDir(), testEnv(), now)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(instances) != 1 || instances[0].Check.Name() != "kept" {
		t.Fatalf("window not filtered: %d instances", len(instances))
	}

	outside := now.AddDate(0, 0, 5)
	instances, err = Load(testRegistry(t), cfgs, t.TempDir(), testEnv(), outside)
	if err != nil {
		t.Fatalf("load outside window: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("outside window filtered: %d instances", len(instances))
	}
}

func TestLoadFiltersMaintenanceCron(t *testing.T) {
	// Window opens at 02:00 daily and spans an hour.
	spec := []config.MaintenanceSpec{{Kind: config.MaintenanceKindCron, Expr: "0 2 * * *"}}
	cfgs := []config.TestConfig{
		{Kind: "static", Name: "always"},
		{Kind: "static", Name: "nightly", SkipDuring: spec},
	}

	inside := time.Date(2026, 8, 1, 2, 30, 0, 0, time.Local)
	instances, err := Load(testRegistry(t), cfgs, t.TempDir(), testEnv(), inside)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("inside cron window: %d instances", len(instances))
	}

	outside := time.Date(2026, 8, 1, 12, 0, 0, 0, time.Local)
	instances, err = Load(testRegistry(t), cfgs, t.TempDir(), testEnv(), outside)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("outside cron window: %d instances", len(instances))
	}
}

func TestLoadRejectsBadMaintenanceSpec(t *testing.T) {
	cfgs := []config.TestConfig{
		{Kind: "static", Name: "t", SkipDuring: []config.MaintenanceSpec{
			{Kind: config.MaintenanceKindCron, Expr: "not a cron"},
		}},
	}
	var loadErr *LoadError
	_, err := Load(testRegistry(t), cfgs, t.TempDir(), testEnv(), time.Now())
	if !errors.As(err, &loadErr) {
		t.Fatalf("bad cron: err = %v", err)
	}
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"Frontend Responds": "frontend_responds",
		"ping 8.8.8.8":      "ping_8.8.8.8",
		"  trimmed  ":       "trimmed",
		"":                  "test",
		"ütf/8":             "_tf_8",
	}
	for in, want := range cases {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUniqueDirName(t *testing.T) {
	seen := map[string]int{}
	first := uniqueDirName(seen, "probe")
	second := uniqueDirName(seen, "probe")
	if first == second {
		t.Fatalf("duplicate names collide: %q", first)
	}
	if first != "probe" || second != "probe_2" {
		t.Fatalf("names = %q, %q", first, second)
	}
}
