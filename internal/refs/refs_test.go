package refs

import "testing"

import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

func TestIsLocal(t *testing.T) {
	assert.True(t, IsLocal("e3"))
	assert.False(t, IsLocal("f1_e3"))
	assert.False(t, IsLocal(""))
}

func TestToGlobal(t *testing.T) {
	assert.Equal(t, "f2_e5", ToGlobal(2, "e5"))
}

func TestParseLocal(t *testing.T) {
	ordinal, local, ok := Parse("e7")
	assert.False(t, ok)
	assert.Equal(t, 0, ordinal)
	assert.Equal(t, "e7", local)
}

func TestParseQualified(t *testing.T) {
	ordinal, local, ok := Parse("f3_e1")
	require.True(t, ok)
	assert.Equal(t, 3, ordinal)
	assert.Equal(t, "e1", local)
}

func TestParseInvalid(t *testing.T) {
	_, _, ok := Parse("not-a-ref")
	assert.False(t, ok)
}

func TestPatternMatchesBothForms(t *testing.T) {
	text := `- button "Submit" [ref=e1]
- iframe [ref=e2]:
  - link "Home" [ref=f1_e1]`
	matches := Pattern.FindAllString(text, -1)
	assert.Equal(t, []string{"[ref=e1]", "[ref=e2]", "[ref=f1_e1]"}, matches)
}

func TestResolve(t *testing.T) {
	idx := Index{"f1_e2": Entry{FrameID: "frame-x", LocalRef: "e2"}}

	entry, ok := Resolve(idx, "f1_e2")
	require.True(t, ok)
	assert.Equal(t, "e2", entry.LocalRef)

	_, ok = Resolve(idx, "f9_e9")
	assert.False(t, ok)
}
