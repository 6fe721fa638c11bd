package checks

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/david-crosby/macmocker/internal/config"
)

// LoadError identifies the configuration entry that could not be turned into
// a runnable check. Any LoadError is fatal: the run aborts before a single
// test is attempted.
type LoadError struct {
	Identifier string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load test %q: %v", e.Identifier, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Instance is a loaded check together with its resolved execution settings.
type Instance struct {
	Check      Check
	Kind       string
	Timeout    time.Duration
	DelayAfter time.Duration
}

// cronWindowSpan is how long a cron-triggered maintenance window stays open
// after each trigger.
const cronWindowSpan = time.Hour

// Load resolves the whole ordered test list into instances before anything
// executes. The first invalid entry fails the load; disabled entries and
// entries inside a maintenance window are filtered out and never appear in
// the run.
func Load(reg *Registry, cfgs []config.TestConfig, runDir string, base Environment, now time.Time) ([]*Instance, error) {
	instances := make([]*Instance, 0, len(cfgs))
	dirSeen := map[string]int{}
	for _, tc := range cfgs {
		name := tc.DisplayName()
		if !tc.IsEnabled() {
			if base.Logger != nil {
				base.Logger.Debug("test disabled", "test", name)
			}
			continue
		}
		inWindow, err := inMaintenance(tc.SkipDuring, now)
		if err != nil {
			return nil, &LoadError{Identifier: name, Err: err}
		}
		if inWindow {
			if base.Logger != nil {
				base.Logger.Info("test inside maintenance window, filtered out", "test", name)
			}
			continue
		}

		factory, ok := reg.Lookup(tc.Kind)
		if !ok {
			return nil, &LoadError{Identifier: name, Err: fmt.Errorf("unknown check kind %q (have %s)", tc.Kind, strings.Join(reg.Kinds(), ", "))}
		}

		timeout := config.DefaultTestTimeout
		if tc.Timeout != nil && tc.Timeout.Set {
			if tc.Timeout.Duration <= 0 {
				return nil, &LoadError{Identifier: name, Err: fmt.Errorf("timeout must be positive, got %s", tc.Timeout.Duration)}
			}
			timeout = tc.Timeout.Duration
		}
		if tc.DelayAfter.Duration < 0 {
			return nil, &LoadError{Identifier: name, Err: fmt.Errorf("delay_after must not be negative, got %s", tc.DelayAfter.Duration)}
		}

		env := base
		env.ArtifactsDir = filepath.Join(runDir, uniqueDirName(dirSeen, name))

		check, err := factory(FactoryConfig{Name: name, Kind: tc.Kind, Options: tc.Options}, env)
		if err != nil {
			return nil, &LoadError{Identifier: name, Err: err}
		}

		instances = append(instances, &Instance{
			Check:      check,
			Kind:       tc.Kind,
			Timeout:    timeout,
			DelayAfter: tc.DelayAfter.Duration,
		})
	}
	if len(instances) == 0 {
		return nil, errors.New("no enabled tests in configuration")
	}
	return instances, nil
}

// uniqueDirName gives each test its own artifacts subdirectory even when two
// entries share a display name.
func uniqueDirName(seen map[string]int, name string) string {
	base := SafeName(name)
	seen[base]++
	if seen[base] > 1 {
		return fmt.Sprintf("%s_%d", base, seen[base])
	}
	return base
}

// SafeName lowercases a display name and replaces path-hostile characters so
// it can be used as a directory component.
func SafeName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, strings.TrimSpace(name))
	if mapped == "" {
		return "test"
	}
	return mapped
}

func inMaintenance(specs []config.MaintenanceSpec, now time.Time) (bool, error) {
	for _, spec := range specs {
		switch spec.Kind {
		case config.MaintenanceKindRange:
			start, end, err := parseRange(spec.Expr, now.Location())
			if err != nil {
				return false, err
			}
			if (now.Equal(start) || now.After(start)) && now.Before(end) {
				return true, nil
			}
		case config.MaintenanceKindCron:
			schedule, err := cron.ParseStandard(spec.Expr)
			if err != nil {
				return false, fmt.Errorf("parse cron %q: %w", spec.Expr, err)
			}
			prev := schedule.Next(now.Add(-cronWindowSpan))
			if !prev.After(now) && now.Sub(prev) <= cronWindowSpan {
				return true, nil
			}
		default:
			return false, fmt.Errorf("unsupported maintenance kind %q", spec.Kind)
		}
	}
	return false, nil
}

func parseRange(expr string, loc *time.Location) (time.Time, time.Time, error) {
	parts := splitRange(expr)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid range %q", expr)
	}
	layout := "2006-01-02T15:04"
	start, err := time.ParseInLocation(layout, parts[0], loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse range start: %w", err)
	}
	end, err := time.ParseInLocation(layout, parts[1], loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse range end: %w", err)
	}
	return start, end, nil
}

// splitRange splits "2024-01-02T03:04-2024-01-02T05:06" on the fourth dash:
// the date portions themselves contain dashes.
func splitRange(expr string) []string {
	chunks := strings.SplitN(expr, "-", 6)
	if len(chunks) < 6 {
		return nil
	}
	start := strings.Join(chunks[:3], "-")
	end := strings.Join(chunks[3:], "-")
	return []string{start, end}
}
