package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quarrylabs/quarry/internal/config"
)

// CheckStatus is the outcome of a single check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

var statusNames = [...]string{"PASS", "WARN", "FAIL"}

func (s CheckStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "UNKNOWN"
	}
	return statusNames[s]
}

// CheckResult is one check's outcome. Required marks checks that must pass
// before indexing can proceed; optional checks only degrade functionality.
type CheckResult struct {
	Name     string
	Status   CheckStatus
	Message  string
	Details  string
	Required bool
}

// IsCritical reports a failed required check.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs the environment checks behind `quarry doctor`.
type Checker struct {
	embeddings config.EmbeddingsConfig
}

// New creates a Checker for the given embedding configuration.
func New(embeddings config.EmbeddingsConfig) *Checker {
	return &Checker{embeddings: embeddings}
}

// RunAll runs every check against the project directory, in a stable order.
func (c *Checker) RunAll(ctx context.Context, projectPath string) []CheckResult {
	return []CheckResult{
		c.CheckDiskSpace(projectPath),
		c.CheckMemory(),
		c.CheckWritePermissions(projectPath),
		c.CheckFileDescriptors(),
		c.CheckEmbedderService(ctx),
	}
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus reduces a result set to "failed", "ready_with_warnings", or
// "ready". An optional failure counts as a warning, not a failure.
func SummaryStatus(results []CheckResult) string {
	warned := false
	for _, r := range results {
		switch {
		case r.IsCritical():
			return "failed"
		case r.Status != StatusPass:
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}

// CheckWritePermissions probes the project directory with a throwaway file.
// Stat-based permission bits lie on some filesystems; an actual create does
// not.
func (c *Checker) CheckWritePermissions(path string) CheckResult {
	result := CheckResult{Name: "write_permissions", Required: true}

	probe := filepath.Join(path, ".quarry-preflight-test")
	f, err := os.Create(probe)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(probe)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}
