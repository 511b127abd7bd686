// Package internal contains the core implementation packages for filterforge.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// all the core functionality for the filterforge CLI tool.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - chunk: Workload partitioning and bounded-concurrency chunk execution
//   - compiler: The external filter-compiler capability boundary
//   - config: Workload configuration management with validation
//   - errors: Structured pipeline errors with abort/failure taxonomy
//   - events: The zero-trust validation event pipeline
//   - hash: Content fingerprints and artifact digests
//   - lock: Advisory file locks with fingerprint-based tamper detection
//   - merge: Chunk output merging with comment-preserving deduplication
//   - orchestrator: The per-run compilation stage machine
//   - source: Source loading with encoding normalization
//   - watcher: Filesystem tamper watching for locked sources
package internal
