// Package cdplog provides the structured, category-tagged logger shared by
// every component of the runtime coordination layer.
package cdplog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger with the category-tagged Debugf convention
// used throughout the core: every call site names the function and a short
// "k:v k:v" context string, so a single component's log lines can be
// grepped by category without structured-field overhead on the hot path.
type Logger struct {
	log *logrus.Logger
}

// New builds a Logger writing to w at the given level.
func New(w io.Writer, level logrus.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{log: l}
}

// Default returns an info-level logger to stderr.
func Default() *Logger {
	return New(os.Stderr, logrus.InfoLevel)
}

// DebugMode reports whether debug-level logging is enabled, so callers can
// skip formatting work on hot paths (event dispatch, handle revalidation)
// when it would be discarded anyway.
func (l *Logger) DebugMode() bool {
	return l.log.IsLevelEnabled(logrus.DebugLevel)
}

// Debugf logs category, a printf-style context string and args, at debug level.
func (l *Logger) Debugf(category, format string, args ...interface{}) {
	if !l.DebugMode() {
		return
	}
	l.log.WithField("category", category).Debugf(format, args...)
}

// Infof logs at info level.
func (l *Logger) Infof(category, format string, args ...interface{}) {
	l.log.WithField("category", category).Infof(format, args...)
}

// Warnf logs at warn level.
func (l *Logger) Warnf(category, format string, args ...interface{}) {
	l.log.WithField("category", category).Warnf(format, args...)
}

// Errorf logs at error level.
func (l *Logger) Errorf(category, format string, args ...interface{}) {
	l.log.WithField("category", category).Errorf(format, args...)
}

// Logrus exposes the underlying *logrus.Logger for callers that need to
// attach extra fields or a custom formatter of their own.
func (l *Logger) Logrus() *logrus.Logger {
	return l.log
}
