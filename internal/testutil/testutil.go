// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    manifest := testutil.RequireModelBundle(t)
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-tango/internal/config"
	"github.com/example/go-tango/internal/model"
	"github.com/example/go-tango/internal/onnx"
)

// RepoRoot is the repository root relative to a package directory two levels
// deep (internal/x, cmd/x), which is the cwd while tests run.
var RepoRoot = filepath.Join("..", "..")

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located, and returns the resolved library path otherwise.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	info, err := onnx.DetectRuntime(config.RuntimeConfig{})
	if err != nil {
		tb.Skipf("ONNX Runtime shared library not found (%v); set TANGO_ORT_LIB or ORT_LIBRARY_PATH", err)
		return ""
	}

	return info.LibraryPath
}

// RequireCheckpoint skips the test unless a complete checkpoint lives under
// TANGO_MODEL_DIR or the default models/tango directory.
func RequireCheckpoint(tb testing.TB) string {
	tb.Helper()

	dir := envOr("TANGO_MODEL_DIR", filepath.Join(RepoRoot, config.DefaultConfig().Paths.ModelDir))

	_, err := model.LoadCheckpoint(dir)
	if err != nil {
		tb.Skipf("checkpoint not available at %q: %v (run `tango model download`)", dir, err)
		return ""
	}

	return dir
}

// RequireModelBundle skips the test unless an exported ONNX manifest exists
// under TANGO_ONNX_MANIFEST or the default location, and returns its path.
func RequireModelBundle(tb testing.TB) string {
	tb.Helper()

	p := envOr("TANGO_ONNX_MANIFEST", filepath.Join(RepoRoot, config.DefaultConfig().Paths.ONNXManifest))

	_, err := os.Stat(p)
	if err != nil {
		tb.Skipf("ONNX bundle not found at %q (run `tango model export`)", p)
		return ""
	}

	return p
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
