// Command nebula-shaderc compiles every program variation of the shader library to SPIR-V.
//
// Each variation is written to <out>/<program>[_<feature>...].spv. A variation that fails
// to compile is logged and skipped; the command exits non-zero if any failed.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Carmen-Shannon/nebula-go/engine/logger"
	"github.com/Carmen-Shannon/nebula-go/engine/renderer/shader"
	"github.com/gogpu/naga"
	"go.uber.org/zap"
)

var (
	outDir   = flag.String("o", "spirv", "output directory")
	only     = flag.String("program", "", "compile only this program")
	logLevel = flag.String("log-level", "info", "log level")
)

func main() {
	flag.Parse()
	log, err := logger.New(logger.Options{Level: *logLevel, Encoding: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("shaderc")

	lib, err := shader.NewLibrary(shader.NewFeatures())
	if err != nil {
		log.Fatal("failed to load shader library", zap.Error(err))
	}
	written, err := compileAll(lib, *outDir, *only, naga.Compile, log)
	log.Info("compiled shaders", zap.Int("files", written), zap.String("dir", *outDir))
	if err != nil {
		log.Error("some variations failed", zap.Error(err))
		os.Exit(1)
	}
}

// compileFunc turns WGSL into SPIR-V.
type compileFunc func(wgsl string) ([]byte, error)

// compileAll compiles the variations of every program, or of the program named only, into
// dir. It returns the number of files written and the joined per-variation failures.
func compileAll(lib *shader.Library, dir, only string, compile compileFunc, log *zap.Logger) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	var errs []error
	written, matched := 0, false
	for _, p := range lib.Programs() {
		if only != "" && p.Name != only {
			continue
		}
		matched = true
		for _, variation := range p.Variations {
			path := filepath.Join(dir, fileName(p.Name, variation))
			if err := compileOne(lib, p.Name, variation, path, compile); err != nil {
				log.Warn("variation failed",
					zap.String("program", p.Name),
					zap.String("variation", variation),
					zap.Error(err),
				)
				errs = append(errs, err)
				continue
			}
			log.Debug("variation compiled", zap.String("path", path))
			written++
		}
	}
	if only != "" && !matched {
		return 0, fmt.Errorf("%w: %q", shader.ErrUnknownShader, only)
	}
	return written, errors.Join(errs...)
}

func compileOne(lib *shader.Library, name, variation, path string, compile compileFunc) error {
	mask, err := lib.Features().Mask(variation)
	if err != nil {
		return fmt.Errorf("%s[%s]: %w", name, variation, err)
	}
	src, err := lib.Source(name, mask)
	if err != nil {
		return err
	}
	spirv, err := compile(src)
	if err != nil {
		return fmt.Errorf("failed to compile %s[%s]: %w", name, variation, err)
	}
	if err := os.WriteFile(path, spirv, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// fileName maps a program variation to its output file, e.g. "lights" and "Point|Alt0"
// become "lights_Point_Alt0.spv".
func fileName(program, variation string) string {
	var b strings.Builder
	b.WriteString(program)
	for _, part := range strings.Split(variation, "|") {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte('_')
			b.WriteString(part)
		}
	}
	b.WriteString(".spv")
	return b.String()
}
