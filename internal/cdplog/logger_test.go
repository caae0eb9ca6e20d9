package cdplog

import (
	"bytes"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestDebugfSuppressedAboveDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logrus.InfoLevel)

	l.Debugf("Test:category", "should not appear")

	assert.Empty(t, buf.String())
	assert.False(t, l.DebugMode())
}

func TestDebugfEmittedAtDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logrus.DebugLevel)

	l.Debugf("Test:category", "value=%d", 42)

	out := buf.String()
	assert.Contains(t, out, "value=42")
	assert.Contains(t, out, "Test:category")
	assert.True(t, l.DebugMode())
}

func TestInfofAlwaysEmitted(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logrus.InfoLevel)

	l.Infof("Test:category", "hello %s", "world")

	assert.Contains(t, buf.String(), "hello world")
}

func TestNewDefaultsOutputToStderr(t *testing.T) {
	l := New(nil, logrus.InfoLevel)
	assert.NotNil(t, l.Logrus())
	assert.Equal(t, os.Stderr, l.Logrus().Out)
}
