package checks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/david-crosby/macmocker/internal/result"
)

// CommandOptions configures the command check kind, which runs an external
// probe (process inspection, platform tooling, site-local scripts) and
// judges it by exit code and output.
type CommandOptions struct {
	Command        []string `mapstructure:"command"`
	Dir            string   `mapstructure:"dir"`
	ExpectExitCode int      `mapstructure:"expect_exit_code"`
	StdoutContains string   `mapstructure:"stdout_contains"`
}

type commandCheck struct {
	name string
	env  Environment
	opts CommandOptions
}

// NewCommandCheck builds a command check from configured options.
func NewCommandCheck(cfg FactoryConfig, env Environment) (Check, error) {
	var opts CommandOptions
	if err := decode(cfg.Options, &opts); err != nil {
		return nil, fmt.Errorf("decode command options: %w", err)
	}
	if len(opts.Command) == 0 {
		return nil, errors.New("command check requires a non-empty command")
	}
	return &commandCheck{name: cfg.Name, env: env, opts: opts}, nil
}

func (c *commandCheck) Name() string { return c.name }

func (c *commandCheck) Description() string {
	return fmt.Sprintf("runs %q and verifies exit code %d", strings.Join(c.opts.Command, " "), c.opts.ExpectExitCode)
}

func (c *commandCheck) Run(ctx context.Context) *result.Result {
	res := result.New(c.name, c.Description())
	res.MarkStarted()

	cmd := exec.CommandContext(ctx, c.opts.Command[0], c.opts.Command[1:]...)
	cmd.Dir = c.opts.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	c.saveOutput(res, stdout.Bytes(), stderr.Bytes())

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			res.MarkFailed("command killed after exceeding its time bound", strings.TrimSpace(stderr.String()))
			return res
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			res.MarkError(fmt.Sprintf("command could not be started: %v", runErr), "")
			return res
		}
	}

	if exitCode != c.opts.ExpectExitCode {
		res.MarkFailed(fmt.Sprintf("exit code %d, expected %d", exitCode, c.opts.ExpectExitCode), strings.TrimSpace(stderr.String()))
		return res
	}
	if c.opts.StdoutContains != "" && !strings.Contains(stdout.String(), c.opts.StdoutContains) {
		res.MarkFailed(fmt.Sprintf("stdout does not contain %q", c.opts.StdoutContains), strings.TrimSpace(stdout.String()))
		return res
	}
	res.MarkPassed(fmt.Sprintf("command exited %d", exitCode))
	return res
}

// saveOutput always keeps the command output as a run artifact so failures
// can be diagnosed after the fact.
func (c *commandCheck) saveOutput(res *result.Result, stdout, stderr []byte) {
	if len(stdout) == 0 && len(stderr) == 0 {
		return
	}
	dir, err := c.env.EnsureArtifactsDir()
	if err != nil {
		c.env.Logger.Warn("cannot create artifacts dir", "test", c.name, "error", err)
		return
	}
	var buf bytes.Buffer
	if len(stdout) > 0 {
		buf.WriteString("--- stdout ---\n")
		buf.Write(stdout)
	}
	if len(stderr) > 0 {
		buf.WriteString("--- stderr ---\n")
		buf.Write(stderr)
	}
	path := filepath.Join(dir, "output.log")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		c.env.Logger.Warn("cannot save command output", "test", c.name, "error", err)
		return
	}
	res.AddArtifact(path)
}
