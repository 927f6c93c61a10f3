package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Exit codes returned by the handoff CLI.
const (
	ExitSuccess      = 0
	ExitUnclassified = 1
	ExitValidation   = 2
	ExitNetwork      = 3
	ExitProcess      = 4
	ExitSync         = 5
	ExitPublish      = 6
	ExitInternal     = 10
)

// defaultHints pairs known categories with a remediation hint used when the error
// itself carries none.
var defaultHints = map[ErrorCategory]string{
	CategoryConfig:     "check the HANDOFF_* environment variables, the .env file and the --config file",
	CategoryValidation: "check the HANDOFF_* environment variables, the .env file and the --config file",
	CategoryNetwork:    "verify the overlay is up (tailscale status) and the peer is reachable over ssh",
	CategoryProcess:    "verify the external tool is installed and on PATH, or override it with HANDOFF_*_BIN",
	CategorySync:       "the mirror is restartable; re-run the handoff once the predecessor is reachable",
	CategoryGit:        "verify HANDOFF_PUBLISH_REMOTE and HANDOFF_PUBLISH_TOKEN grant push access",
	CategoryFileSystem: "verify the working directory is writable",
	CategoryHistory:    "remove or relocate the history database (HANDOFF_HISTORY_DB)",
}

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	out     io.Writer
	exit    func(int)
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
		out:     os.Stderr,
		exit:    os.Exit,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if classified, ok := AsClassified(err); ok {
		return a.exitCodeFromClassified(classified)
	}
	return ExitUnclassified
}

func (a *CLIErrorAdapter) exitCodeFromClassified(err *ClassifiedError) int {
	switch err.Category() {
	case CategoryValidation, CategoryConfig:
		return ExitValidation
	case CategoryNetwork:
		return ExitNetwork
	case CategoryProcess, CategoryFileSystem:
		return ExitProcess
	case CategorySync:
		return ExitSync
	case CategoryGit:
		return ExitPublish
	case CategoryInternal:
		return ExitInternal
	default:
		return ExitUnclassified
	}
}

// HintFor returns the remediation hint for an error, falling back to the category default.
func (a *CLIErrorAdapter) HintFor(err error) string {
	classified, ok := AsClassified(err)
	if !ok {
		return ""
	}
	if classified.Hint() != "" {
		return classified.Hint()
	}
	return defaultHints[classified.Category()]
}

// FormatError formats an error for user-friendly display: cause first, then the hint.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	classified, ok := AsClassified(err)
	if !ok {
		return fmt.Sprintf("Error: %v", err)
	}

	var b strings.Builder
	if a.verbose {
		fmt.Fprintf(&b, "Error: %v", err)
	} else {
		fmt.Fprintf(&b, "Error: %s", classified.Message())
		if cause := classified.Cause(); cause != nil {
			fmt.Fprintf(&b, ": %v", cause)
		}
	}
	if hint := a.HintFor(err); hint != "" {
		fmt.Fprintf(&b, "\nHint: %s", hint)
	}
	return b.String()
}

// HandleError processes an error and exits the program with appropriate code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}
	if a.shouldLog(err) {
		a.logError(err)
	}
	_, _ = fmt.Fprintln(a.out, a.FormatError(err))
	a.exit(a.ExitCodeFor(err))
}

func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}
	if classified, ok := AsClassified(err); ok {
		return classified.Severity() == SeverityFatal
	}
	return true
}

func (a *CLIErrorAdapter) logError(err error) {
	if classified, ok := AsClassified(err); ok {
		attrs := []slog.Attr{
			slog.String("category", string(classified.Category())),
		}
		if classified.CanRetry() {
			attrs = append(attrs, slog.Bool("retryable", true))
		}
		for k, v := range classified.Context() {
			attrs = append(attrs, slog.Any(k, v))
		}
		a.logger.LogAttrs(context.Background(), a.slogLevelFromSeverity(classified.Severity()), classified.Message(), attrs...)
		return
	}
	a.logger.Error("Unclassified error", "error", err)
}

func (a *CLIErrorAdapter) slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
