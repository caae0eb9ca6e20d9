package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnknownRefError(t *testing.T) {
	err := NewUnknownRef("f3_e9")
	assert.Contains(t, err.Error(), "f3_e9")

	var target *UnknownRefError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, "f3_e9", target.Ref)
}

func TestFrameDetachedErrorUnwraps(t *testing.T) {
	cause := errors.New("execution context was destroyed")
	err := NewFrameDetached(cause)

	assert.True(t, IsFrameDetached(err))
	assert.True(t, errors.Is(err, cause))
}

func TestIsFrameDetachedFalseForUnrelatedError(t *testing.T) {
	assert.False(t, IsFrameDetached(errors.New("some other failure")))
	assert.False(t, IsFrameDetached(nil))
}

func TestFrameDetachedWrappedThroughFmtErrorf(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", NewFrameDetached(errors.New("target closed")))
	assert.True(t, IsFrameDetached(err))
}

func TestNavigationErrorCarriesSnapshot(t *testing.T) {
	err := NewNavigation("https://example.com", errors.New("net::ERR_CONNECTION_REFUSED"), "partial text")

	var navErr *NavigationError
	assert.True(t, errors.As(err, &navErr))
	assert.Equal(t, "https://example.com", navErr.URL)
	assert.Equal(t, "partial text", navErr.Snapshot)
	assert.Contains(t, err.Error(), "https://example.com")
}

func TestAuthenticationError(t *testing.T) {
	cause := errors.New("cookie file not found")
	err := NewAuthentication("admin", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "admin")
}
