// Package logging provides a minimal logging interface and adapters used
// across the orchestrator for observability.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the executor, coordinator and tree cache use. This
// package includes:
//
//   - Logger interface for dependency injection
//   - AgentMeshLogger adapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	coord := coordinator.New(repo, cache, exec, client, coordinator.Options{Logger: logger})
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
