// Package runner executes conversions: it spawns one converter process
// per file and drives batches through a bounded worker pool, recording
// per-file state transitions in the conversion ledger.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/models"
)

// killGracePeriod is how long a cancelled converter gets to exit after
// SIGTERM before it is force-killed.
const killGracePeriod = 5 * time.Second

// Converter turns one file into its markdown sidecar. Implementations
// must return a failure result rather than an error: one file's failure
// must never abort its siblings.
type Converter interface {
	Convert(ctx context.Context, file models.DiscoveredFile) models.ConversionResult
}

// Invoker runs the external converter binary once per file. It follows
// the http.Client pattern: create once, use for every conversion.
// Thread-safe for concurrent use.
type Invoker struct {
	// ConverterPath is the binary to spawn. The file path is appended
	// as the final argument.
	ConverterPath string

	// Args are fixed arguments placed before the file path.
	Args []string

	// MaxFileSize is the ceiling in bytes. Files above it fail without
	// a process being spawned. Zero disables the check.
	MaxFileSize int64

	// Logger receives per-invocation diagnostics. May be nil.
	Logger logger.Logger
}

// Convert runs the converter for one file and maps the process outcome
// to a ConversionResult. It never returns an unhandled error: spawn
// failures and nonzero exits become failure results.
func (inv *Invoker) Convert(ctx context.Context, file models.DiscoveredFile) models.ConversionResult {
	result := models.ConversionResult{FilePath: file.Path}

	if inv.MaxFileSize > 0 && file.Size > inv.MaxFileSize {
		result.Error = fmt.Sprintf("file size %d bytes exceeds the %d byte limit", file.Size, inv.MaxFileSize)
		return result
	}

	args := append(append([]string{}, inv.Args...), file.Path)
	cmd := exec.CommandContext(ctx, inv.ConverterPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// On cancellation, ask the converter to exit before killing it.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod

	start := time.Now()
	err := cmd.Run()
	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err == nil {
		result.Success = true
		result.OutputPath = file.MarkdownPath
		logger.Debugf(inv.Logger, "converted %s in %s", file.Path, result.Duration)
		return result
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.Error = exitMessage(exitErr.ExitCode(), result.Stderr, result.Stdout)
	} else {
		// The process never ran (binary missing, permission denied, ...).
		result.Error = fmt.Sprintf("failed to start converter: %v", err)
	}
	logger.Debugf(inv.Logger, "conversion of %s failed: %s", file.Path, result.Error)
	return result
}

// exitMessage derives a failure message from a nonzero exit: stderr
// first, then stdout, then a generic exit-code message.
func exitMessage(code int, stderr, stdout string) string {
	if s := trimOutput(stderr); s != "" {
		return s
	}
	if s := trimOutput(stdout); s != "" {
		return s
	}
	return fmt.Sprintf("converter exited with code %d", code)
}

// trimOutput trims whitespace and caps very long process output so error
// messages stay readable in the UI.
func trimOutput(s string) string {
	const maxLen = 4096
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
