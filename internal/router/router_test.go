package router

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdexhq/agentbridge/internal/identity"
	"github.com/verdexhq/agentbridge/internal/refs"
)

func TestParseRefResolvesKnownEntry(t *testing.T) {
	idCtx := &identity.Context{
		RefIndex: refs.Index{
			"f1_e2": refs.Entry{FrameID: cdp.FrameID("child"), LocalRef: "e2"},
		},
	}

	entry, err := ParseRef(idCtx, "f1_e2")
	require.NoError(t, err)
	assert.Equal(t, cdp.FrameID("child"), entry.FrameID)
	assert.Equal(t, "e2", entry.LocalRef)
}

func TestParseRefUnknownIsNoHeuristicFailure(t *testing.T) {
	idCtx := &identity.Context{RefIndex: refs.Index{}}

	_, err := ParseRef(idCtx, "e99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "e99")
}

func TestParseRefStaleAfterIndexReplaced(t *testing.T) {
	idCtx := &identity.Context{
		RefIndex: refs.Index{"e1": refs.Entry{FrameID: cdp.FrameID("main"), LocalRef: "e1"}},
	}
	_, err := ParseRef(idCtx, "e1")
	require.NoError(t, err)

	// A fresh snapshot fully replaces the index (spec.md §3); a ref from the
	// previous one must now be unknown, not resolved against stale state.
	idCtx.RefIndex = refs.Index{}
	_, err = ParseRef(idCtx, "e1")
	assert.Error(t, err)
}
