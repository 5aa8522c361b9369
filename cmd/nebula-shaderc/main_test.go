package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoCompile(src string) ([]byte, error) {
	return []byte(src), nil
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "gbuffer.spv", fileName("gbuffer", ""))
	assert.Equal(t, "lights_Point_Alt0.spv", fileName("lights", "Point|Alt0"))
	assert.Equal(t, "hbao_Alt1.spv", fileName("hbao", "Alt1"))
}

func TestCompileAllWritesEveryVariation(t *testing.T) {
	lib, err := shader.NewLibrary(shader.NewFeatures())
	require.NoError(t, err)
	dir := t.TempDir()

	written, err := compileAll(lib, dir, "", echoCompile, zap.NewNop())
	require.NoError(t, err)

	want := 0
	for _, p := range lib.Programs() {
		want += len(p.Variations)
	}
	assert.Equal(t, want, written)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, want)

	mask, err := lib.Features().Mask("Point|Alt0")
	require.NoError(t, err)
	src, err := lib.Source(shader.ProgramLights, mask)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dir, fileName(shader.ProgramLights, "Point|Alt0")))
	require.NoError(t, err)
	assert.Equal(t, src, string(got))
}

func TestCompileAllSingleProgram(t *testing.T) {
	lib, err := shader.NewLibrary(shader.NewFeatures())
	require.NoError(t, err)

	written, err := compileAll(lib, t.TempDir(), shader.ProgramShadow, echoCompile, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	_, err = compileAll(lib, t.TempDir(), "nope", echoCompile, zap.NewNop())
	assert.ErrorIs(t, err, shader.ErrUnknownShader)
}

func TestCompileAllKeepsGoingAfterFailures(t *testing.T) {
	lib, err := shader.NewLibrary(shader.NewFeatures())
	require.NoError(t, err)
	boom := errors.New("boom")
	calls := 0
	failFirst := func(src string) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return []byte(strings.ToUpper(src[:1])), nil
	}

	written, err := compileAll(lib, t.TempDir(), shader.ProgramLights, failFirst, zap.NewNop())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 5, written)
}
