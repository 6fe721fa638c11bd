package checks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oliveagle/jsonpath"

	"github.com/david-crosby/macmocker/internal/result"
)

// HTTPOptions configures the http check kind.
type HTTPOptions struct {
	URL             string            `mapstructure:"url"`
	Method          string            `mapstructure:"method"`
	Headers         map[string]string `mapstructure:"headers"`
	ExpectStatus    int               `mapstructure:"expect_status"`
	BodyContains    string            `mapstructure:"body_contains"`
	JSONPath        string            `mapstructure:"json_path"`
	JSONExpect      any               `mapstructure:"json_expect"`
	MaxResponseTime time.Duration     `mapstructure:"max_response_time"`
	// MinThroughputMbps turns the check into a download-speed probe: the
	// whole body is drained and the observed rate must meet the floor.
	MinThroughputMbps float64 `mapstructure:"min_throughput_mbps"`
}

type httpCheck struct {
	name string
	env  Environment
	opts HTTPOptions
}

// NewHTTPCheck builds an http check from configured options.
func NewHTTPCheck(cfg FactoryConfig, env Environment) (Check, error) {
	var opts HTTPOptions
	if err := decode(cfg.Options, &opts); err != nil {
		return nil, fmt.Errorf("decode http options: %w", err)
	}
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("http check requires a url option")
	}
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.JSONPath != "" && opts.JSONExpect == nil {
		return nil, errors.New("json_path requires json_expect")
	}
	return &httpCheck{name: cfg.Name, env: env, opts: opts}, nil
}

func (c *httpCheck) Name() string { return c.name }

func (c *httpCheck) Description() string {
	return fmt.Sprintf("verifies %s %s responds in time with the expected status and content", c.opts.Method, c.opts.URL)
}

// maxInspectedBody bounds how much of a response is retained for content
// assertions; throughput measurement still drains the rest.
const maxInspectedBody = 1 << 20

func (c *httpCheck) Run(ctx context.Context) *result.Result {
	res := result.New(c.name, c.Description())
	res.MarkStarted()

	req, err := http.NewRequestWithContext(ctx, c.opts.Method, c.opts.URL, nil)
	if err != nil {
		res.MarkError("build request failed", err.Error())
		return res
	}
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.env.HTTPClient.Do(req)
	if err != nil {
		res.MarkFailed(fmt.Sprintf("request to %s failed", c.opts.URL), err.Error())
		return res
	}
	defer resp.Body.Close()

	body, total, err := drainBody(resp.Body)
	if err != nil {
		res.MarkFailed(fmt.Sprintf("read response from %s failed", c.opts.URL), err.Error())
		return res
	}
	elapsed := time.Since(start)

	var failures []string
	if c.opts.ExpectStatus != 0 {
		if resp.StatusCode != c.opts.ExpectStatus {
			failures = append(failures, fmt.Sprintf("expected status %d, got %d", c.opts.ExpectStatus, resp.StatusCode))
		}
	} else if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		failures = append(failures, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	if c.opts.MaxResponseTime > 0 && elapsed > c.opts.MaxResponseTime {
		failures = append(failures, fmt.Sprintf("response took %s, limit %s", elapsed.Round(time.Millisecond), c.opts.MaxResponseTime))
	}
	if c.opts.BodyContains != "" && !strings.Contains(string(body), c.opts.BodyContains) {
		failures = append(failures, fmt.Sprintf("body does not contain %q", c.opts.BodyContains))
	}
	if c.opts.JSONPath != "" {
		if msg := c.checkJSONPath(body); msg != "" {
			failures = append(failures, msg)
		}
	}
	if c.opts.MinThroughputMbps > 0 {
		mbps := float64(total*8) / elapsed.Seconds() / 1e6
		if mbps < c.opts.MinThroughputMbps {
			failures = append(failures, fmt.Sprintf("throughput %.2f Mbps below floor %.2f Mbps", mbps, c.opts.MinThroughputMbps))
		}
	}

	if len(failures) > 0 {
		c.saveBody(res, body)
		res.MarkFailed(strings.Join(failures, "; "), fmt.Sprintf("%s %s -> %d in %s (%d bytes)", c.opts.Method, c.opts.URL, resp.StatusCode, elapsed.Round(time.Millisecond), total))
		return res
	}
	res.MarkPassed(fmt.Sprintf("%s %s -> %d in %s", c.opts.Method, c.opts.URL, resp.StatusCode, elapsed.Round(time.Millisecond)))
	return res
}

func (c *httpCheck) checkJSONPath(body []byte) string {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Sprintf("parse json body: %v", err)
	}
	val, err := jsonpath.JsonPathLookup(doc, c.opts.JSONPath)
	if err != nil {
		return fmt.Sprintf("jsonpath %s: %v", c.opts.JSONPath, err)
	}
	if fmt.Sprintf("%v", val) != fmt.Sprintf("%v", c.opts.JSONExpect) {
		return fmt.Sprintf("jsonpath %s: expected %v, got %v", c.opts.JSONPath, c.opts.JSONExpect, val)
	}
	return ""
}

// saveBody keeps the offending response as a run artifact for later
// diagnosis.
func (c *httpCheck) saveBody(res *result.Result, body []byte) {
	if len(body) == 0 {
		return
	}
	dir, err := c.env.EnsureArtifactsDir()
	if err != nil {
		c.env.Logger.Warn("cannot create artifacts dir", "test", c.name, "error", err)
		return
	}
	path := filepath.Join(dir, "response_body")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		c.env.Logger.Warn("cannot save response body", "test", c.name, "error", err)
		return
	}
	res.AddArtifact(path)
}

// drainBody reads the whole body, keeping at most maxInspectedBody bytes for
// assertions, and returns the total number of bytes transferred.
func drainBody(r io.Reader) ([]byte, int64, error) {
	head, err := io.ReadAll(io.LimitReader(r, maxInspectedBody))
	if err != nil {
		return nil, 0, err
	}
	rest, err := io.Copy(io.Discard, r)
	if err != nil {
		return nil, 0, err
	}
	return head, int64(len(head)) + rest, nil
}
