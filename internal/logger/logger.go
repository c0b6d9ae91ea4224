// Package logger provides the leveled logging contract shared by all umd
// components and a thread-safe console implementation.
//
// Components receive a Logger through their constructors rather than
// reaching for a package-level singleton; a nil Logger is valid and
// discards all output.
package logger

// Logger is the leveled logging interface injected into each component.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Debugf logs through l when it is non-nil.
func Debugf(l Logger, format string, args ...interface{}) {
	if l != nil {
		l.Debugf(format, args...)
	}
}

// Infof logs through l when it is non-nil.
func Infof(l Logger, format string, args ...interface{}) {
	if l != nil {
		l.Infof(format, args...)
	}
}

// Warnf logs through l when it is non-nil.
func Warnf(l Logger, format string, args ...interface{}) {
	if l != nil {
		l.Warnf(format, args...)
	}
}

// Errorf logs through l when it is non-nil.
func Errorf(l Logger, format string, args ...interface{}) {
	if l != nil {
		l.Errorf(format, args...)
	}
}
