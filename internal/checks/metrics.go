package checks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/Knetic/govaluate"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/david-crosby/macmocker/internal/result"
)

// MetricsOptions configures the metrics check kind: scrape a Prometheus text
// endpoint on the host and assert thresholds over raw or computed series.
type MetricsOptions struct {
	URL        string                    `mapstructure:"url"`
	Thresholds []MetricThreshold         `mapstructure:"thresholds"`
	Computed   map[string]ComputedMetric `mapstructure:"computed"`
}

// MetricThreshold asserts one metric value against a bound.
type MetricThreshold struct {
	Name   string            `mapstructure:"name"`
	Labels map[string]string `mapstructure:"labels"`
	Op     string            `mapstructure:"op"`
	Value  float64           `mapstructure:"value"`
}

// ComputedMetric derives a value from other series via an expression.
type ComputedMetric struct {
	Expression string                     `mapstructure:"expression"`
	Variables  map[string]MetricReference `mapstructure:"variables"`
}

// MetricReference names a series feeding a computed metric.
type MetricReference struct {
	Name    string            `mapstructure:"name"`
	Labels  map[string]string `mapstructure:"labels"`
	Default *float64          `mapstructure:"default"`
}

type metricsCheck struct {
	name string
	env  Environment
	opts MetricsOptions
}

// NewMetricsCheck builds a metrics check from configured options.
func NewMetricsCheck(cfg FactoryConfig, env Environment) (Check, error) {
	var opts MetricsOptions
	if err := decode(cfg.Options, &opts); err != nil {
		return nil, fmt.Errorf("decode metrics options: %w", err)
	}
	if opts.URL == "" {
		return nil, errors.New("metrics check requires a url option")
	}
	if len(opts.Thresholds) == 0 {
		return nil, errors.New("metrics check requires at least one threshold")
	}
	for _, th := range opts.Thresholds {
		if strings.TrimSpace(th.Name) == "" {
			return nil, errors.New("metrics threshold requires a name")
		}
		if !validOp(th.Op) {
			return nil, fmt.Errorf("metrics threshold %q has unsupported op %q", th.Name, th.Op)
		}
	}
	return &metricsCheck{name: cfg.Name, env: env, opts: opts}, nil
}

func (c *metricsCheck) Name() string { return c.name }

func (c *metricsCheck) Description() string {
	return fmt.Sprintf("scrapes %s and verifies %d metric threshold(s)", c.opts.URL, len(c.opts.Thresholds))
}

func (c *metricsCheck) Run(ctx context.Context) *result.Result {
	res := result.New(c.name, c.Description())
	res.MarkStarted()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.URL, nil)
	if err != nil {
		res.MarkError("build scrape request failed", err.Error())
		return res
	}
	resp, err := c.env.HTTPClient.Do(req)
	if err != nil {
		res.MarkFailed(fmt.Sprintf("scrape %s failed", c.opts.URL), err.Error())
		return res
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		res.MarkFailed(fmt.Sprintf("scrape %s returned status %d", c.opts.URL, resp.StatusCode), "")
		return res
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		res.MarkFailed("parse metrics payload failed", err.Error())
		return res
	}

	var failures []string
	for _, threshold := range c.opts.Thresholds {
		if msg := c.evaluateThreshold(families, threshold); msg != "" {
			failures = append(failures, msg)
		}
	}

	if len(failures) > 0 {
		res.MarkFailed(fmt.Sprintf("%d of %d thresholds breached", len(failures), len(c.opts.Thresholds)), strings.Join(failures, "\n"))
		return res
	}
	res.MarkPassed(fmt.Sprintf("all %d thresholds within bounds", len(c.opts.Thresholds)))
	return res
}

func (c *metricsCheck) evaluateThreshold(families map[string]*dto.MetricFamily, threshold MetricThreshold) string {
	label := threshold.Name + formatLabelSet(threshold.Labels)

	var value float64
	if _, computed := c.opts.Computed[threshold.Name]; computed {
		v, err := c.resolveComputed(families, threshold.Name)
		if err != nil {
			return fmt.Sprintf("%s: %v", label, err)
		}
		value = v
	} else {
		family, ok := families[threshold.Name]
		if !ok {
			return fmt.Sprintf("%s: metric not found", label)
		}
		v, found, err := findMetricValue(family, threshold.Labels)
		if err != nil {
			return fmt.Sprintf("%s: %v", label, err)
		}
		if !found {
			return fmt.Sprintf("%s: no series matched labels", label)
		}
		value = v
	}

	if !compareFloats(value, threshold.Value, threshold.Op) {
		return fmt.Sprintf("%s: value %.4f not %s %.4f", label, value, threshold.Op, threshold.Value)
	}
	return ""
}

func (c *metricsCheck) resolveComputed(families map[string]*dto.MetricFamily, name string) (float64, error) {
	spec := c.opts.Computed[name]
	if strings.TrimSpace(spec.Expression) == "" {
		return 0, fmt.Errorf("computed metric missing expression")
	}
	if len(spec.Variables) == 0 {
		return 0, fmt.Errorf("computed metric has no variables")
	}

	vars := make(map[string]any, len(spec.Variables))
	for varName, ref := range spec.Variables {
		val, err := resolveMetricReference(families, ref)
		if err != nil {
			return 0, fmt.Errorf("variable %q: %w", varName, err)
		}
		vars[varName] = val
	}

	expr, err := govaluate.NewEvaluableExpression(spec.Expression)
	if err != nil {
		return 0, fmt.Errorf("parse expression: %w", err)
	}
	value, err := expr.Evaluate(vars)
	if err != nil {
		return 0, fmt.Errorf("evaluate expression: %w", err)
	}
	floatVal, ok := value.(float64)
	if !ok || math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
		return 0, fmt.Errorf("expression result is not a finite number")
	}
	return floatVal, nil
}

func resolveMetricReference(families map[string]*dto.MetricFamily, ref MetricReference) (float64, error) {
	if strings.TrimSpace(ref.Name) == "" {
		return 0, fmt.Errorf("metric name is required")
	}
	family, ok := families[ref.Name]
	if !ok {
		if ref.Default != nil {
			return *ref.Default, nil
		}
		return 0, fmt.Errorf("metric %q not found", ref.Name)
	}
	value, found, err := findMetricValue(family, ref.Labels)
	if err != nil {
		return 0, err
	}
	if !found {
		if ref.Default != nil {
			return *ref.Default, nil
		}
		return 0, fmt.Errorf("no series matched labels %s", formatLabelSet(ref.Labels))
	}
	return value, nil
}

func findMetricValue(family *dto.MetricFamily, labels map[string]string) (float64, bool, error) {
	if family == nil {
		return 0, false, nil
	}
	for _, metric := range family.Metric {
		if !labelsMatch(metric, labels) {
			continue
		}
		switch family.GetType() {
		case dto.MetricType_COUNTER:
			if metric.Counter == nil {
				return 0, false, fmt.Errorf("metric missing counter value")
			}
			return metric.Counter.GetValue(), true, nil
		case dto.MetricType_GAUGE:
			if metric.Gauge == nil {
				return 0, false, fmt.Errorf("metric missing gauge value")
			}
			return metric.Gauge.GetValue(), true, nil
		case dto.MetricType_UNTYPED:
			if metric.Untyped == nil {
				return 0, false, fmt.Errorf("metric missing untyped value")
			}
			return metric.Untyped.GetValue(), true, nil
		default:
			return 0, false, fmt.Errorf("unsupported metric type %s", family.GetType().String())
		}
	}
	return 0, false, nil
}

func labelsMatch(metric *dto.Metric, expected map[string]string) bool {
	for key, value := range expected {
		if !metricHasLabel(metric, key, value) {
			return false
		}
	}
	return true
}

func metricHasLabel(metric *dto.Metric, key, value string) bool {
	for _, labelPair := range metric.Label {
		if labelPair.GetName() == key && labelPair.GetValue() == value {
			return true
		}
	}
	return false
}

func formatLabelSet(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, key, labels[key]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// validOp reports whether compareFloats understands the operator. Checked at
// construction so a typo fails the load instead of breaching at runtime.
func validOp(op string) bool {
	switch strings.ToLower(op) {
	case "equals", "equal", "==",
		"less_than", "<",
		"less_or_equal", "<=",
		"greater_than", ">",
		"greater_or_equal", ">=",
		"not_equals", "!=":
		return true
	default:
		return false
	}
}

func compareFloats(actual, expected float64, op string) bool {
	switch strings.ToLower(op) {
	case "equals", "equal", "==":
		return actual == expected
	case "less_than", "<":
		return actual < expected
	case "less_or_equal", "<=":
		return actual <= expected
	case "greater_than", ">":
		return actual > expected
	case "greater_or_equal", ">=":
		return actual >= expected
	case "not_equals", "!=":
		return actual != expected
	default:
		return false
	}
}
