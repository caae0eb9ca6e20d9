// Package snapshot implements the Snapshot Composer (C6): it recursively
// expands iframe markers produced by each frame's bridge into one composed
// accessibility-tree text, rewriting local refs into frame-qualified global
// refs and building the routing index used by the Reference Router (C7).
package snapshot

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/oxtoacart/bpool"

	"github.com/verdexhq/agentbridge/internal/apierr"
	"github.com/verdexhq/agentbridge/internal/bridge"
	"github.com/verdexhq/agentbridge/internal/cdplog"
	"github.com/verdexhq/agentbridge/internal/cdptransport"
	"github.com/verdexhq/agentbridge/internal/failure"
	"github.com/verdexhq/agentbridge/internal/refs"
)

// iframeLine matches the marker spec.md §4.6 describes: an unexpanded
// `- iframe [ref=eN]` line, optionally carrying a quoted name.
var iframeLine = regexp.MustCompile(`^(\s*)- iframe(?: "([^"]*)")? \[ref=(e\d+)\]$`)

// bufPool recycles the buffers composeFrame uses to assemble each frame's
// text. A deeply nested page can recurse through dozens of frames per
// snapshot; pooling keeps that from allocating a fresh buffer per frame on
// every poll.
var bufPool = bpool.NewBufferPool(24)

// Result is everything Compose produces for one snapshot.
type Result struct {
	Text            string
	ElementCount    int
	RefIndex        refs.Index
	ExpansionErrors []string
}

// Compose runs the full algorithm of spec.md §4.6 against mainFrameID and
// every frame reachable from it through inj.
func Compose(ctx context.Context, sess *cdptransport.Session, inj *bridge.Injector, mainFrameID cdp.FrameID, failLog *failure.Log, logger *cdplog.Logger) (*Result, error) {
	idx := make(refs.Index)
	ordinal := 0
	count := 0

	text, err := composeFrame(ctx, sess, inj, mainFrameID, idx, &ordinal, &count, failLog, logger)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compose main frame: %w", err)
	}

	for _, m := range refs.Pattern.FindAllString(text, -1) {
		ref := refValue(m)
		if refs.IsLocal(ref) {
			idx[ref] = refs.Entry{FrameID: mainFrameID, LocalRef: ref}
		}
	}

	var expansionErrs []string
	injections, expansions, _, _, _ := failLog.Snapshot()
	for _, f := range injections {
		if !f.IsMainFrame {
			expansionErrs = append(expansionErrs, fmt.Sprintf("frame %v: %v", f.FrameID, f.Err))
		}
	}
	for _, f := range expansions {
		expansionErrs = append(expansionErrs, fmt.Sprintf("frame %v: %v", f.FrameID, f.Err))
	}

	return &Result{
		Text:            text,
		ElementCount:    count,
		RefIndex:        idx,
		ExpansionErrors: expansionErrs,
	}, nil
}

// composeFrame snapshots one frame and expands every iframe marker found in
// its text, recursing depth-first. It returns the frame's own text with
// descendant refs already rewritten to their fK_eN form and indexed; its
// own top-level refs are left as bare eN for the caller to register (either
// directly, for the main frame, or via a further rewrite, for a nested
// frame being merged into its parent).
func composeFrame(ctx context.Context, sess *cdptransport.Session, inj *bridge.Injector, frameID cdp.FrameID, idx refs.Index, ordinal, count *int, failLog *failure.Log, logger *cdplog.Logger) (string, error) {
	text, elementCount, err := snapshotFrame(ctx, inj, frameID)
	if err != nil {
		return "", err
	}
	*count += elementCount

	buf := bufPool.Get()
	defer bufPool.Put(buf)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			buf.WriteByte('\n')
		}

		m := iframeLine.FindStringSubmatch(line)
		if m == nil {
			buf.WriteString(line)
			continue
		}

		indent, localRef := m[1], m[3]
		buf.WriteString(line)
		buf.WriteByte(':')

		childFrameID, resolveErr := resolveChildFrame(ctx, sess, inj, frameID, localRef)
		if resolveErr != nil {
			buf.WriteByte('\n')
			buf.WriteString(indent + "  [Frame content unavailable]")
			failLog.RecordExpansion(failure.FrameExpansionFailure{FrameID: frameID, Detached: false, Err: resolveErr})
			logger.Debugf("Snapshot:resolveChildFrame", "fid:%v ref:%s err:%v", frameID, localRef, resolveErr)
			continue
		}

		k := *ordinal + 1
		*ordinal = k

		childText, childErr := composeFrame(ctx, sess, inj, childFrameID, idx, ordinal, count, failLog, logger)
		if childErr != nil {
			detached := apierr.IsFrameDetached(childErr) || failure.Classify(childErr.Error()) == failure.ClassDetached
			buf.WriteByte('\n')
			if detached {
				buf.WriteString(indent + "  [Frame detached]")
			} else {
				fmt.Fprintf(buf, "%s  [Error: %v]", indent, childErr)
			}
			failLog.RecordExpansion(failure.FrameExpansionFailure{FrameID: childFrameID, Detached: detached, Err: childErr})
			continue
		}

		rewritten := rewriteAndIndex(childText, k, childFrameID, idx)
		for _, l := range indentLines(rewritten) {
			buf.WriteByte('\n')
			buf.WriteString(l)
		}
	}

	return buf.String(), nil
}

func snapshotFrame(ctx context.Context, inj *bridge.Injector, frameID cdp.FrameID) (string, int, error) {
	type pair struct {
		text  string
		count int
	}
	p, err := bridge.CallMethod(ctx, inj, frameID, func(h bridge.Helper) (pair, error) {
		text, count, err := h.Snapshot(ctx)
		return pair{text, count}, err
	})
	return p.text, p.count, err
}

// resolveChildFrame resolves an iframe marker's local ref to the cdp.FrameID
// of its content document, per spec.md §4.6 step 2b: obtain the element's
// remote object handle through the parent's bridge, then ask the protocol
// to describe that node with "pierce" so a same-process child frame's id is
// reported without needing a separate round trip into the child.
func resolveChildFrame(ctx context.Context, sess *cdptransport.Session, inj *bridge.Injector, frameID cdp.FrameID, localRef string) (cdp.FrameID, error) {
	objID, err := bridge.ElementObjectID(ctx, inj, frameID, localRef)
	if err != nil {
		return "", err
	}

	node, err := dom.DescribeNode().WithObjectID(objID).WithPierce(true).Do(cdp.WithExecutor(ctx, sess))
	if err != nil {
		return "", fmt.Errorf("snapshot: describe iframe node: %w", err)
	}
	if node.FrameID != "" {
		return node.FrameID, nil
	}
	if node.ContentDocument != nil && node.ContentDocument.FrameID != "" {
		return node.ContentDocument.FrameID, nil
	}
	return "", fmt.Errorf("snapshot: iframe %q has no content frame (empty or not yet loaded)", localRef)
}

// rewriteAndIndex rewrites every bare eN ref in text to fK_eN and records it
// in idx; refs already qualified (fJ_...) from a deeper recursion level are
// left untouched, since they were indexed when that level was merged.
func rewriteAndIndex(text string, ordinal int, frameID cdp.FrameID, idx refs.Index) string {
	return refs.Pattern.ReplaceAllStringFunc(text, func(m string) string {
		local := refValue(m)
		if !refs.IsLocal(local) {
			return m
		}
		global := refs.ToGlobal(ordinal, local)
		idx[global] = refs.Entry{FrameID: frameID, LocalRef: local}
		return "[ref=" + global + "]"
	})
}

func refValue(match string) string {
	return strings.TrimSuffix(strings.TrimPrefix(match, "[ref="), "]")
}

func indentLines(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = "  " + l
	}
	return out
}
