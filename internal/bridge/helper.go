// Package bridge implements the per-frame bridge lifecycle manager (C3):
// it guarantees the in-page accessibility helper (C2, external) is present
// and callable in every reachable frame, and that the remote handle used to
// reach it survives document replacement.
package bridge

import "context"

// Helper is the contract the core requires from the in-page isolated-world
// accessibility-tree builder ("ariaSnapshotter"). The core never constructs
// one directly; Injector.EnsureFrameState hands back a Helper backed by a
// remote object in the frame's isolated world, and callers route every
// method call here through CallMethod so handle revalidation (§4.3) is
// applied uniformly.
type Helper interface {
	// Snapshot returns the frame's raw accessibility-tree text (with local
	// [ref=eN] markers, including unexpanded "- iframe [ref=eN]" lines) and
	// the count of interactive elements found.
	Snapshot(ctx context.Context) (text string, elementCount int, err error)

	// Click performs a click on the element behind a local ref.
	Click(ctx context.Context, localRef string) error

	// Type enters text into the element behind a local ref.
	Type(ctx context.Context, localRef string, text string) error

	// ResolveContainer returns a structural description of the nearest
	// meaningful container ancestor of localRef.
	ResolveContainer(ctx context.Context, localRef string) (interface{}, error)

	// InspectPattern returns sibling/pattern information for localRef at
	// the given ancestor level.
	InspectPattern(ctx context.Context, localRef string, level int) (interface{}, error)

	// ExtractAnchors returns descendant anchor/link information for
	// localRef at the given ancestor level.
	ExtractAnchors(ctx context.Context, localRef string, level int) (interface{}, error)

	// ElementInfo resolves a local ref to element metadata — role, name,
	// tag, text, visibility, bounding rect, selector, attributes — used by
	// browser_inspect. The snapshot composer resolves iframe refs through
	// ElementObjectID instead.
	ElementInfo(ctx context.Context, localRef string) (ElementInfo, error)
}

// ElementInfo is the plain-data element description the external helper
// exposes through its `elements` map (spec.md §4.2).
type ElementInfo struct {
	Role       string
	Name       string
	Tag        string
	Text       string
	Visible    bool
	Rect       Rect
	Selector   string
	Attributes map[string]string
	IsIframe   bool
}

// Rect is a bounding rectangle in CSS pixels.
type Rect struct {
	X, Y, Width, Height float64
}
