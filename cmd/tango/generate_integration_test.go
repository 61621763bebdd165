//go:build integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-tango/internal/config"
	"github.com/example/go-tango/internal/testutil"
)

func absPath(t *testing.T, p string) string {
	t.Helper()
	abs, err := filepath.Abs(p)
	if err != nil {
		t.Fatalf("Abs(%q): %v", p, err)
	}
	return abs
}

func TestGenerateIntegration(t *testing.T) {
	lib := testutil.RequireONNXRuntime(t)
	modelDir := absPath(t, testutil.RequireCheckpoint(t))
	manifest := absPath(t, testutil.RequireModelBundle(t))

	tokenizer := absPath(t, filepath.Join(testutil.RepoRoot, config.DefaultConfig().Paths.TokenizerModel))
	if _, err := os.Stat(tokenizer); err != nil {
		t.Skipf("tokenizer model not found at %q (run `tango model download`)", tokenizer)
	}

	out := filepath.Join(t.TempDir(), "dog.wav")
	_, _, err := runRoot(t, "",
		"generate",
		"--prompt", "A dog barking",
		"--steps", "5",
		"--seed", "1",
		"--out", out,
		"--progress=false",
		"--paths-model-dir", modelDir,
		"--paths-onnx-manifest", manifest,
		"--paths-tokenizer-model", tokenizer,
		"--runtime-ort-library-path", lib,
	)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output wav: %v", err)
	}
	testutil.AssertValidWAV(t, data, 16000)
	testutil.AssertWAVDurationApprox(t, data, 1, 30)
}
