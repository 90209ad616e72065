package preflight

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// embedderProbeTimeout bounds the reachability probe so a hung service
// cannot stall the whole check run.
const embedderProbeTimeout = 2 * time.Second

// CheckEmbedderService checks whether the configured embedding service is
// reachable. Non-critical: the static embedder needs no service, and the
// auto provider falls back to it.
func (c *Checker) CheckEmbedderService(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedder_service",
		Required: false,
	}

	if c.embeddings.Provider == "static" {
		result.Status = StatusPass
		result.Message = "static embedder (no external service)"
		return result
	}

	host := c.embeddings.OllamaHost
	if host == "" {
		host = "http://localhost:11434"
	}

	probeCtx, cancel := context.WithTimeout(ctx, embedderProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, host+"/api/tags", nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("invalid embedder host %q: %v", host, err)
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("embedding service unreachable at %s", host)
		result.Details = "Indexing falls back to the static embedder; start Ollama to enable semantic search"
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("embedding service returned HTTP %d", resp.StatusCode)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("embedding service reachable at %s", host)
	return result
}
