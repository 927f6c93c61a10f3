// Package errors provides foundational, type-safe error primitives used across the handoff tool.
//
// This package contains classified error types and helpers for robust error handling,
// including a fluent builder API for constructing ClassifiedError values with context.
//
// Key features:
//   - ErrorCategory: Broad error classification (validation, network, process, sync, git, ...)
//   - ErrorSeverity: Impact level (fatal, error, warning, info)
//   - RetryStrategy: Retry behavior (never, immediate, backoff, user action)
//   - ClassifiedError: Structured error with category, severity, context and a remediation hint
//   - ErrorBuilder: Fluent API for creating classified errors
//   - CLIErrorAdapter: exit code mapping and user-facing presentation
//
// Example usage:
//
//	err := errors.SyncError("all transports exhausted").
//		WithContext("host", host).
//		WithCause(lastErr).
//		WithHint("re-run the handoff; the mirror is restartable").
//		Build()
package errors
