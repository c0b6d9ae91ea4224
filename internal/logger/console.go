package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Log level constants for filtering.
const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

// ConsoleLogger writes timestamped, optionally colored log lines to a
// writer. It is safe for concurrent use and filters messages below the
// configured level.
type ConsoleLogger struct {
	writer      io.Writer
	level       int
	colorOutput bool
	mu          sync.Mutex
}

// NewConsoleLogger creates a ConsoleLogger writing to w.
// Valid levels are debug, info, warn, error (case-insensitive); empty or
// unknown levels default to info. Color output is enabled only when w is
// a TTY and NO_COLOR is not set.
func NewConsoleLogger(w io.Writer, level string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      w,
		level:       parseLevel(level),
		colorOutput: isTerminal(w),
	}
}

func parseLevel(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// isTerminal reports whether w is a TTY that supports color.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Debugf logs a debug-level message.
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logf(levelDebug, "DEBUG", color.FgHiBlack, format, args...)
}

// Infof logs an info-level message.
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logf(levelInfo, "INFO", color.FgCyan, format, args...)
}

// Warnf logs a warn-level message.
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logf(levelWarn, "WARN", color.FgYellow, format, args...)
}

// Errorf logs an error-level message.
func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) {
	cl.logf(levelError, "ERROR", color.FgRed, format, args...)
}

func (cl *ConsoleLogger) logf(level int, tag string, attr color.Attribute, format string, args ...interface{}) {
	if cl == nil || cl.writer == nil || level < cl.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05")

	label := tag
	if cl.colorOutput {
		label = color.New(attr).Sprint(tag)
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	fmt.Fprintf(cl.writer, "[%s] %-5s %s\n", timestamp, label, msg)
}
