// Package refs implements the Reference Formatter (C1): the grammar and
// index for global references (`eN`, `fK_eN`) used to route agent-facing
// actions into the frame that owns the underlying element.
package refs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/cdp"
)

// Pattern matches a `[ref=eN]` or `[ref=fK_eN]` occurrence inside bridge
// snapshot text, per the snapshot text format (spec.md §6).
var Pattern = regexp.MustCompile(`\[ref=((?:e\d+)|(?:f\d+_e\d+))\]`)

// Entry is what a global ref resolves to: the frame that owns the element
// and the element's local ref inside that frame's own bridge.
type Entry struct {
	FrameID  cdp.FrameID
	LocalRef string
}

// Index is the per-snapshot refIndex (spec.md §3): owned solely by the
// composer and fully replaced on every successful snapshot.
type Index map[string]Entry

// IsLocal reports whether ref is a bare, frame-local reference (`eN`) as
// opposed to an already frame-qualified one (`fK_eN`).
func IsLocal(ref string) bool {
	return strings.HasPrefix(ref, "e")
}

// ToGlobal qualifies localRef with frame ordinal K, producing `fK_eN`. It is
// a no-op — returning localRef unchanged — when localRef is already
// qualified, so that merging nested frames never double-qualifies a ref
// that was already indexed by a deeper recursion level (spec.md §4.6 step 2e).
func ToGlobal(ordinal int, localRef string) string {
	if !IsLocal(localRef) {
		return localRef
	}
	return fmt.Sprintf("f%d_%s", ordinal, localRef)
}

// Parse splits a global ref of the form `fK_eN` into its frame ordinal and
// local ref, or reports ok=false for a bare `eN` (main-frame) ref.
func Parse(ref string) (ordinal int, localRef string, ok bool) {
	if IsLocal(ref) {
		return 0, ref, false
	}
	if !strings.HasPrefix(ref, "f") {
		return 0, "", false
	}
	rest := ref[1:]
	idx := strings.Index(rest, "_")
	if idx < 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(rest[:idx])
	if err != nil {
		return 0, "", false
	}
	local := rest[idx+1:]
	if !IsLocal(local) {
		return 0, "", false
	}
	return n, local, true
}

// Resolve looks up ref in idx. A missing entry means the ref is unknown —
// either never issued or stale from a prior snapshot's index (spec.md §4.7,
// parseRef: "No heuristics, no fallback").
func Resolve(idx Index, ref string) (Entry, bool) {
	e, ok := idx[ref]
	return e, ok
}
