package renderer

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/pierrec/lz4/v4"
	"gopkg.in/yaml.v3"
)

// captureVersion is bumped whenever the Command layout changes incompatibly.
const captureVersion = 1

// ErrCaptureVersion is returned by ReadCapture for captures written by an incompatible version.
var ErrCaptureVersion = errors.New("unsupported capture version")

type captureFile struct {
	Version  int       `yaml:"version"`
	Commands []Command `yaml:"commands"`
}

// WriteCapture writes commands to w as an lz4-compressed YAML document.
//
// Parameters:
//   - w: the destination
//   - commands: the recorded command stream
//
// Returns:
//   - error: an error if encoding or compression fails
func WriteCapture(w io.Writer, commands []Command) error {
	zw := lz4.NewWriter(w)
	enc := yaml.NewEncoder(zw)
	enc.SetIndent(2)
	if err := enc.Encode(captureFile{Version: captureVersion, Commands: commands}); err != nil {
		return fmt.Errorf("failed to encode capture: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode capture: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress capture: %w", err)
	}
	return nil
}

// ReadCapture reads a command stream written by WriteCapture.
//
// Parameters:
//   - r: the source
//
// Returns:
//   - []Command: the recorded commands
//   - error: ErrCaptureVersion or a decoding error
func ReadCapture(r io.Reader) ([]Command, error) {
	var f captureFile
	if err := yaml.NewDecoder(lz4.NewReader(r)).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode capture: %w", err)
	}
	if f.Version != captureVersion {
		return nil, fmt.Errorf("%w: %d", ErrCaptureVersion, f.Version)
	}
	return f.Commands, nil
}

// OpCount is one row of a command histogram.
type OpCount struct {
	Op    Op
	Count int
}

// Histogram counts commands per Op, most frequent first. Ties are ordered by name.
func Histogram(commands []Command) []OpCount {
	counts := make(map[Op]int)
	for _, c := range commands {
		counts[c.Op]++
	}
	out := make([]OpCount, 0, len(counts))
	for op, n := range counts {
		out = append(out, OpCount{Op: op, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Op < out[j].Op
	})
	return out
}
