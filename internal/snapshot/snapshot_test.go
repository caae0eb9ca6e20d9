package snapshot

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"

	"github.com/verdexhq/agentbridge/internal/refs"
)

func TestIframeLineMatchesBareMarker(t *testing.T) {
	m := iframeLine.FindStringSubmatch(`  - iframe [ref=e4]`)
	if assert.NotNil(t, m) {
		assert.Equal(t, "  ", m[1])
		assert.Equal(t, "e4", m[3])
	}
}

func TestIframeLineMatchesNamedMarker(t *testing.T) {
	m := iframeLine.FindStringSubmatch(`- iframe "Payment form" [ref=e9]`)
	if assert.NotNil(t, m) {
		assert.Equal(t, "Payment form", m[2])
		assert.Equal(t, "e9", m[3])
	}
}

func TestIframeLineDoesNotMatchExpandedLine(t *testing.T) {
	m := iframeLine.FindStringSubmatch(`- iframe [ref=e4]:`)
	assert.Nil(t, m)
}

func TestRefValue(t *testing.T) {
	assert.Equal(t, "e3", refValue("[ref=e3]"))
	assert.Equal(t, "f2_e1", refValue("[ref=f2_e1]"))
}

func TestIndentLines(t *testing.T) {
	got := indentLines("a\nb\nc")
	assert.Equal(t, []string{"  a", "  b", "  c"}, got)
}

func TestRewriteAndIndexQualifiesBareRefs(t *testing.T) {
	idx := make(refs.Index)
	text := `- button "Submit" [ref=e1]
- link "Home" [ref=e2]`

	got := rewriteAndIndex(text, 3, cdp.FrameID("child-frame"), idx)

	assert.Contains(t, got, "[ref=f3_e1]")
	assert.Contains(t, got, "[ref=f3_e2]")
	assert.Equal(t, refs.Entry{FrameID: "child-frame", LocalRef: "e1"}, idx["f3_e1"])
	assert.Equal(t, refs.Entry{FrameID: "child-frame", LocalRef: "e2"}, idx["f3_e2"])
}

func TestRewriteAndIndexLeavesAlreadyQualifiedRefsAlone(t *testing.T) {
	idx := make(refs.Index)
	text := `- link "Deep" [ref=f1_e1]`

	got := rewriteAndIndex(text, 2, cdp.FrameID("outer-frame"), idx)

	assert.Equal(t, text, got)
	assert.Empty(t, idx)
}
