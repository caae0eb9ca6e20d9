package failure

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[string]Classification{
		"Cross-Origin frame access denied":       ClassCrossOrigin,
		"Frame detached during operation":        ClassDetached,
		"execution context was destroyed":        ClassDetached,
		"Target closed.":                         ClassDetached,
		"session closed":                         ClassDetached,
		"No frame with given id found":           ClassDetached,
		"operation timeout after 5s":             ClassTimeout,
		"something entirely unrelated happened":  ClassUnknown,
	}
	for msg, want := range cases {
		assert.Equal(t, want, Classify(msg), msg)
	}
}

func TestLogSnapshotIsACopy(t *testing.T) {
	l := New()
	l.RecordInjection(FrameInjectionFailure{FrameID: "f1", Classification: ClassTimeout})

	injections, _, _, _, _ := l.Snapshot()
	injections[0].FrameID = "mutated"

	injections2, _, _, _, _ := l.Snapshot()
	require.Len(t, injections2, 1)
	assert.EqualValues(t, "f1", injections2[0].FrameID)
}

func TestLogClear(t *testing.T) {
	l := New()
	l.RecordAuth(errors.New("boom"))
	l.RecordDiscovery(errors.New("boom2"))
	l.RecordCleanup("close-target", errors.New("boom3"))

	l.Clear()

	injections, expansions, cleanups, authErr, discoveryErr := l.Snapshot()
	assert.Empty(t, injections)
	assert.Empty(t, expansions)
	assert.Empty(t, cleanups)
	assert.NoError(t, authErr)
	assert.NoError(t, discoveryErr)
}

func TestBuildWarningsNilWhenClean(t *testing.T) {
	l := New()
	assert.Nil(t, BuildWarnings(l, true))
}

func TestBuildWarningsUnauthenticatedSurfacesEvenWithoutFailures(t *testing.T) {
	l := New()
	w := BuildWarnings(l, false)
	require.NotNil(t, w)
	assert.Equal(t, "unauthenticated", w.AuthStatus)
	assert.False(t, w.PartialContent)
}

func TestBuildWarningsCountsInaccessibleFrames(t *testing.T) {
	l := New()
	l.RecordInjection(FrameInjectionFailure{FrameID: "f1", IsMainFrame: false, Classification: ClassCrossOrigin})
	l.RecordExpansion(FrameExpansionFailure{FrameID: "f2", Detached: true})

	w := BuildWarnings(l, true)
	require.NotNil(t, w)
	assert.Equal(t, 2, w.InaccessibleFrames)
	assert.True(t, w.PartialContent)
	assert.Equal(t, "ok", w.AuthStatus)
	assert.Len(t, w.Details, 2)
}

func TestBuildWarningsOptionalAuthFailureReportsUnauthenticated(t *testing.T) {
	l := New()
	l.RecordAuth(errors.New("cookie rejected"))

	// A context only ever reaches BuildWarnings with authErr set when its
	// auth load was optional — a required load failure tears the context
	// down before any snapshot exists — so this is "unauthenticated", not
	// "failed".
	w := BuildWarnings(l, true)
	require.NotNil(t, w)
	assert.Equal(t, "unauthenticated", w.AuthStatus)
	assert.Contains(t, w.Details[0], "authentication could not be loaded")
}

func TestBuildWarningsMainFrameInjectionDoesNotCountAsInaccessible(t *testing.T) {
	l := New()
	l.RecordInjection(FrameInjectionFailure{FrameID: "main", IsMainFrame: true, Classification: ClassUnknown})

	w := BuildWarnings(l, true)
	// A main-frame injection failure alone (auth ok, no other failures) still
	// produces no Details and AuthStatus "ok", so BuildWarnings reports clean.
	assert.Nil(t, w)
}
