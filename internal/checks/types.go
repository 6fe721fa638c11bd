// Package checks defines the contract every runnable verification
// implements, the registry resolving configured kinds into check instances,
// and the built-in check catalog.
package checks

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/david-crosby/macmocker/internal/result"
)

// Check is a single runnable verification bound to its configuration.
// Run must mark the returned Result through its full lifecycle and finish in
// a terminal state; the engine treats anything else as an error outcome.
// The context carries the effective deadline for this execution: checks that
// honour it stop early, checks that do not are abandoned once it expires.
type Check interface {
	Name() string
	Description() string
	Run(ctx context.Context) *result.Result
}

// Environment carries the shared dependencies injected into every check.
type Environment struct {
	Logger     *slog.Logger
	HTTPClient *http.Client

	// ArtifactsDir is this check's own subdirectory inside the run's
	// artifacts directory. It is created on demand, not up front.
	ArtifactsDir string
}

// EnsureArtifactsDir creates the check's artifacts directory if needed and
// returns its path.
func (e Environment) EnsureArtifactsDir() (string, error) {
	if err := os.MkdirAll(e.ArtifactsDir, 0o755); err != nil {
		return "", err
	}
	return e.ArtifactsDir, nil
}

// Factory builds a check from a configured test entry.
type Factory func(cfg FactoryConfig, env Environment) (Check, error)

// FactoryConfig is the subset of a test entry a factory needs: the display
// name and the raw option map.
type FactoryConfig struct {
	Name    string
	Kind    string
	Options map[string]any
}
