package onnx

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/example/go-tango/internal/config"
)

func resetRuntimeStateForTest() {
	bootstrapOnce = sync.Once{}
	bootstrapInfo = RuntimeInfo{}
	errBootstrap = nil
	shutdownFlag.Store(false)
}

func writeFakeLib(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fake lib: %v", err)
	}
	return p
}

func TestDetectRuntimePrefersTangoEnv(t *testing.T) {
	tmp := t.TempDir()
	lib := writeFakeLib(t, tmp, "libonnxruntime.so")

	t.Setenv("TANGO_ORT_LIB", lib)
	t.Setenv("ORT_LIBRARY_PATH", filepath.Join(tmp, "does-not-exist"))

	info, err := DetectRuntime(config.RuntimeConfig{})
	if err != nil {
		t.Fatalf("DetectRuntime failed: %v", err)
	}
	if info.LibraryPath != lib {
		t.Fatalf("expected %q, got %q", lib, info.LibraryPath)
	}
}

func TestDetectRuntimeConfigWins(t *testing.T) {
	tmp := t.TempDir()
	fromCfg := writeFakeLib(t, tmp, "libonnxruntime.so.1.23.2")
	t.Setenv("TANGO_ORT_LIB", writeFakeLib(t, tmp, "other.so"))
	t.Setenv("ORT_VERSION", "")

	info, err := DetectRuntime(config.RuntimeConfig{ORTLibraryPath: fromCfg})
	if err != nil {
		t.Fatalf("DetectRuntime failed: %v", err)
	}
	if info.LibraryPath != fromCfg {
		t.Fatalf("LibraryPath = %q, want %q", info.LibraryPath, fromCfg)
	}
	if info.Version != "1.23.2" {
		t.Fatalf("Version = %q, want 1.23.2 inferred from filename", info.Version)
	}
}

func TestDetectRuntimeMissingPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.so")

	info, err := DetectRuntime(config.RuntimeConfig{ORTLibraryPath: missing})
	if err == nil {
		t.Fatal("expected error for missing library")
	}
	if info.LibraryPath != missing {
		t.Fatalf("LibraryPath = %q, want %q", info.LibraryPath, missing)
	}
}

func TestBootstrapRunsOnce(t *testing.T) {
	resetRuntimeStateForTest()
	t.Cleanup(resetRuntimeStateForTest)

	tmp := t.TempDir()
	lib1 := writeFakeLib(t, tmp, "lib1.so")
	lib2 := writeFakeLib(t, tmp, "lib2.so")
	t.Setenv("TANGO_ORT_LIB", "")

	info1, err := Bootstrap(config.RuntimeConfig{Threads: 1, ORTLibraryPath: lib1})
	if err != nil {
		t.Fatalf("first bootstrap failed: %v", err)
	}
	info2, err := Bootstrap(config.RuntimeConfig{Threads: 1, ORTLibraryPath: lib2})
	if err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}

	if info1.LibraryPath != lib1 {
		t.Fatalf("expected first lib path %q, got %q", lib1, info1.LibraryPath)
	}
	if info2.LibraryPath != lib1 {
		t.Fatalf("expected once semantics to keep %q, got %q", lib1, info2.LibraryPath)
	}
	if got := os.Getenv("TANGO_ORT_LIB"); got != lib1 {
		t.Fatalf("TANGO_ORT_LIB = %q, want %q", got, lib1)
	}

	if err := Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if err := Shutdown(); err != nil {
		t.Fatalf("second shutdown failed: %v", err)
	}
}

func TestRuntimeInfoRunnerConfigCarriesThreads(t *testing.T) {
	rc := config.DefaultConfig().Runtime
	rc.Threads = 6
	rc.ORTAPIVersion = 22

	got := RuntimeInfo{LibraryPath: "/opt/ort/libonnxruntime.so"}.RunnerConfig(rc)
	want := RunnerConfig{LibraryPath: "/opt/ort/libonnxruntime.so", APIVersion: 22, Threads: 6}
	if got != want {
		t.Fatalf("RunnerConfig = %+v, want %+v", got, want)
	}

	opts := got.sessionOptions()
	if opts == nil || opts.IntraOpNumThreads != 6 {
		t.Fatalf("session options = %+v, want 6 intra-op threads", opts)
	}
}

func TestRunnerConfigDefaults(t *testing.T) {
	var cfg RunnerConfig
	if cfg.sessionOptions() != nil {
		t.Fatal("zero threads should leave session options to ORT")
	}
	if cfg.apiVersion() != defaultAPIVersion {
		t.Fatalf("apiVersion = %d, want %d", cfg.apiVersion(), defaultAPIVersion)
	}
}
