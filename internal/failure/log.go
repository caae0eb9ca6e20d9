// Package failure implements the per-context Failure Log and the
// user-facing warnings summary derived from it (C8).
package failure

import (
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
)

// Classification is the coarse cause bucket assigned to an injection or
// expansion failure (spec.md §4.5).
type Classification string

const (
	ClassCrossOrigin Classification = "cross-origin"
	ClassDetached    Classification = "detached"
	ClassTimeout     Classification = "timeout"
	ClassUnknown     Classification = "unknown"
)

// Classify buckets err by message substring, per spec.md §4.5.
func Classify(msg string) Classification {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "cross-origin"):
		return ClassCrossOrigin
	case strings.Contains(lower, "frame detached"),
		strings.Contains(lower, "execution context destroyed"),
		strings.Contains(lower, "execution context was destroyed"),
		strings.Contains(lower, "target closed"),
		strings.Contains(lower, "session closed"),
		strings.Contains(lower, "frame id not found"),
		strings.Contains(lower, "no frame with given id"):
		return ClassDetached
	case strings.Contains(lower, "timeout"):
		return ClassTimeout
	default:
		return ClassUnknown
	}
}

// FrameInjectionFailure records a single child-frame bridge-injection
// failure (C5).
type FrameInjectionFailure struct {
	FrameID        cdp.FrameID
	Classification Classification
	IsMainFrame    bool
	Err            error
}

// FrameExpansionFailure records a single iframe-expansion failure
// encountered while composing a snapshot (C6).
type FrameExpansionFailure struct {
	FrameID  cdp.FrameID
	Detached bool
	Err      error
}

// CleanupError records one failed teardown step (C4 Close).
type CleanupError struct {
	Step string
	Err  error
}

// Log is the append-only (within a session) Failure Log owned by one
// Identity Context.
type Log struct {
	mu sync.Mutex

	injections []FrameInjectionFailure
	expansions []FrameExpansionFailure
	cleanups   []CleanupError

	authErr      error
	discoveryErr error
}

// New returns an empty Failure Log.
func New() *Log { return &Log{} }

func (l *Log) RecordInjection(f FrameInjectionFailure) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.injections = append(l.injections, f)
}

func (l *Log) RecordExpansion(f FrameExpansionFailure) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expansions = append(l.expansions, f)
}

func (l *Log) RecordCleanup(step string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanups = append(l.cleanups, CleanupError{Step: step, Err: err})
}

func (l *Log) RecordAuth(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.authErr = err
}

func (l *Log) RecordDiscovery(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discoveryErr = err
}

// Clear resets the log — exposed only for test isolation, per spec.md §4.8.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.injections = nil
	l.expansions = nil
	l.cleanups = nil
	l.authErr = nil
	l.discoveryErr = nil
}

// Snapshot returns copies of the log's current contents, safe to read
// without holding the log's lock afterwards.
func (l *Log) Snapshot() (injections []FrameInjectionFailure, expansions []FrameExpansionFailure, cleanups []CleanupError, authErr, discoveryErr error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	injections = append(injections, l.injections...)
	expansions = append(expansions, l.expansions...)
	cleanups = append(cleanups, l.cleanups...)
	return injections, expansions, cleanups, l.authErr, l.discoveryErr
}
