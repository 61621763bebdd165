package model

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExportONNX_OptionErrors(t *testing.T) {
	ctx := context.Background()
	if err := ExportONNX(ctx, ExportOptions{OutDir: "out"}); err == nil {
		t.Fatal("expected error for empty checkpoint dir")
	}
	if err := ExportONNX(ctx, ExportOptions{CheckpointDir: "ckpt"}); err == nil {
		t.Fatal("expected error for empty out dir")
	}
}

func TestExportONNX_PythonBinNotFound(t *testing.T) {
	err := ExportONNX(context.Background(), ExportOptions{
		CheckpointDir: writeCheckpoint(t, true),
		OutDir:        t.TempDir(),
		PythonBin:     "/nonexistent/python-for-tango",
	})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected interpreter not found error, got %v", err)
	}
}

func TestExportONNX_MissingMainConfig(t *testing.T) {
	err := ExportONNX(context.Background(), ExportOptions{
		CheckpointDir: t.TempDir(),
		OutDir:        t.TempDir(),
		PythonBin:     "/nonexistent/python",
	})
	if err == nil || !strings.Contains(err.Error(), "main_config.json") {
		t.Fatalf("expected main_config.json error, got %v", err)
	}
}

func TestResolveScriptPath(t *testing.T) {
	if _, err := resolveScriptPath(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := resolveScriptPath(filepath.Join("scripts", "does-not-exist.py")); err == nil {
		t.Fatal("expected error for missing script")
	}

	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "scripts"), 0o755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(tmp, "scripts", "export_onnx.py")
	if err := os.WriteFile(script, []byte("print()"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(tmp)

	got, err := resolveScriptPath(filepath.Join("scripts", "export_onnx.py"))
	if err != nil {
		t.Fatalf("resolveScriptPath: %v", err)
	}
	// macOS TempDir sits behind a /private symlink.
	if filepath.Base(got) != "export_onnx.py" || !strings.HasSuffix(filepath.Dir(got), "scripts") {
		t.Fatalf("resolveScriptPath = %q", got)
	}
}

func TestDetectExportPython(t *testing.T) {
	t.Setenv("TANGO_PYTHON", "/opt/py/bin/python")
	if got := DetectExportPython(); got != "/opt/py/bin/python" {
		t.Fatalf("DetectExportPython = %q, want TANGO_PYTHON", got)
	}

	t.Setenv("TANGO_PYTHON", "")
	t.Setenv("PATH", t.TempDir())
	t.Chdir(t.TempDir())
	if got := DetectExportPython(); got != "python3" {
		t.Fatalf("DetectExportPython = %q, want python3 fallback", got)
	}
}

func TestShebangInterpreter(t *testing.T) {
	bin := t.TempDir()
	interp := filepath.Join(bin, "python3.11")
	if err := os.WriteFile(interp, []byte{}, 0o755); err != nil {
		t.Fatal(err)
	}
	launcher := filepath.Join(bin, "huggingface-cli")
	if err := os.WriteFile(launcher, []byte("#!"+interp+"\nimport sys\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin)

	if got := shebangInterpreter("huggingface-cli"); got != interp {
		t.Fatalf("shebangInterpreter = %q, want %q", got, interp)
	}
	if got := shebangInterpreter("not-installed"); got != "" {
		t.Fatalf("shebangInterpreter(missing) = %q", got)
	}
}
