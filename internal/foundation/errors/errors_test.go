package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "handoff.yaml").
			Build()

		if err.Category() != CategoryConfig {
			t.Errorf("expected category %s, got %s", CategoryConfig, err.Category())
		}
		if err.Severity() != SeverityFatal {
			t.Errorf("expected severity %s, got %s", SeverityFatal, err.Severity())
		}
		if err.Message() != "invalid configuration" {
			t.Errorf("expected message 'invalid configuration', got %s", err.Message())
		}

		file, exists := err.Context().GetString("file")
		if !exists || file != "handoff.yaml" {
			t.Errorf("expected context file=handoff.yaml, got %v", file)
		}
	})

	t.Run("Error detection through wrapping", func(t *testing.T) {
		err := fmt.Errorf("stage discover: %w", NetworkError("directory unavailable").Build())

		if !IsClassified(err) {
			t.Error("expected wrapped error to be classified")
		}
		if !HasCategory(err, CategoryNetwork) {
			t.Error("expected error to have network category")
		}
		if GetCategory(errors.New("plain")) != CategoryInternal {
			t.Error("expected plain errors to report internal category")
		}
	})

	t.Run("Sentinel copies keep identity", func(t *testing.T) {
		sentinel := SyncError("transports exhausted").Build()
		cause := errors.New("rsync: connection reset")

		derived := sentinel.WithCause(cause).WithContext("host", "100.64.0.7")

		if !errors.Is(derived, sentinel) {
			t.Error("expected derived error to match sentinel")
		}
		if !errors.Is(derived, cause) {
			t.Error("expected derived error to wrap cause")
		}
		if sentinel.Cause() != nil {
			t.Error("sentinel must not be mutated")
		}
		if _, ok := sentinel.Context().Get("host"); ok {
			t.Error("sentinel context must not be mutated")
		}
	})
}

func TestErrorBuilder(t *testing.T) {
	t.Run("Fluent API", func(t *testing.T) {
		originalErr := errors.New("original error")
		err := WrapError(originalErr, CategoryNetwork, "network failure").
			Warning().
			Retryable().
			WithHint("check the overlay").
			WithContext("host", "runner-1").
			WithContext("port", 22).
			Build()

		if err.Severity() != SeverityWarning {
			t.Errorf("expected severity %s, got %s", SeverityWarning, err.Severity())
		}
		if err.RetryStrategy() != RetryBackoff {
			t.Errorf("expected retry strategy %s, got %s", RetryBackoff, err.RetryStrategy())
		}
		if !errors.Is(err, originalErr) {
			t.Error("expected error to wrap original error")
		}
		if err.Hint() != "check the overlay" {
			t.Errorf("unexpected hint %q", err.Hint())
		}
	})

	t.Run("Convenience constructors", func(t *testing.T) {
		tests := []struct {
			name     string
			builder  *ErrorBuilder
			category ErrorCategory
			severity ErrorSeverity
			retry    RetryStrategy
		}{
			{"ConfigError", ConfigError("test"), CategoryConfig, SeverityFatal, RetryUserAction},
			{"ValidationError", ValidationError("test"), CategoryValidation, SeverityFatal, RetryUserAction},
			{"NetworkError", NetworkError("test"), CategoryNetwork, SeverityError, RetryBackoff},
			{"ProcessError", ProcessError("test"), CategoryProcess, SeverityError, RetryNever},
			{"SyncError", SyncError("test"), CategorySync, SeverityFatal, RetryNever},
			{"GitError", GitError("test"), CategoryGit, SeverityError, RetryBackoff},
			{"NotifyError", NotifyError("test"), CategoryNotify, SeverityWarning, RetryNever},
			{"FileSystemError", FileSystemError("test"), CategoryFileSystem, SeverityError, RetryNever},
			{"HistoryError", HistoryError("test"), CategoryHistory, SeverityError, RetryNever},
			{"RuntimeError", RuntimeError("test"), CategoryRuntime, SeverityFatal, RetryNever},
			{"InternalError", InternalError("test"), CategoryInternal, SeverityFatal, RetryNever},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.builder.Build()
				if err.Category() != tt.category {
					t.Errorf("expected category %s, got %s", tt.category, err.Category())
				}
				if err.Severity() != tt.severity {
					t.Errorf("expected severity %s, got %s", tt.severity, err.Severity())
				}
				if err.RetryStrategy() != tt.retry {
					t.Errorf("expected retry strategy %s, got %s", tt.retry, err.RetryStrategy())
				}
			})
		}
	})
}

func TestErrorContext(t *testing.T) {
	ctx1 := make(ErrorContext)
	ctx1 = ctx1.Set("key1", "value1")
	ctx1 = ctx1.Set("shared", "original")

	ctx2 := make(ErrorContext)
	ctx2 = ctx2.Set("key2", "value2")
	ctx2 = ctx2.Set("shared", "overridden")

	merged := ctx1.Merge(ctx2)

	value1, _ := merged.GetString("key1")
	value2, _ := merged.GetString("key2")
	shared, _ := merged.GetString("shared")

	if value1 != "value1" || value2 != "value2" {
		t.Errorf("expected both keys in merged context, got %v", merged)
	}
	if shared != "overridden" {
		t.Errorf("expected shared=overridden, got %s", shared)
	}
	if _, exists := merged.Get("nonexistent"); exists {
		t.Error("expected nonexistent key to not exist")
	}
}
