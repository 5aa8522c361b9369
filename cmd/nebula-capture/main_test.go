package main

import (
	"bytes"
	"testing"

	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCaptureRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	summary, err := capture(config.Default(), zap.NewNop(), 3, 1.0/60, &buf)
	require.NoError(t, err)
	assert.Zero(t, summary.hazards)
	assert.Zero(t, summary.violations)

	cmds, err := renderer.ReadCapture(&buf)
	require.NoError(t, err)
	assert.Len(t, cmds, summary.commands)

	total := 0
	seen := map[renderer.Op]bool{}
	for _, c := range summary.histogram {
		total += c.Count
		seen[c.Op] = true
	}
	assert.Equal(t, summary.commands, total)
	assert.True(t, seen[renderer.OpDrawInstanced])
	assert.True(t, seen[renderer.OpBlit])
}

func TestCaptureRejectsZeroFrames(t *testing.T) {
	var buf bytes.Buffer
	_, err := capture(config.Default(), zap.NewNop(), 0, 1.0/60, &buf)
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}
