// Package preflight validates the environment before Quarry starts heavy
// work: free disk space (100MB floor), available memory (1GB floor), write
// access to the project directory, the file descriptor limit (1024 floor),
// and reachability of the configured embedding service.
//
//	checker := preflight.New(cfg.Embeddings)
//	results := checker.RunAll(ctx, projectPath)
//	if preflight.HasCriticalFailures(results) {
//	    // refuse to sync
//	}
package preflight
