package model

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ExportOptions configures the PyTorch → ONNX conversion of a checkpoint.
type ExportOptions struct {
	CheckpointDir string
	OutDir        string
	// TextEncoder is the HF id of the FLAN-T5 encoder; empty uses the
	// checkpoint's main_config.json text_encoder_name.
	TextEncoder string
	Opset       int
	FP16        bool
	PythonBin   string
	Stdout      io.Writer
	Stderr      io.Writer
}

// exportModules are the Python packages scripts/export_onnx.py imports.
var exportModules = []string{"torch", "onnx", "audioldm", "diffusers", "transformers"}

// ExportONNX runs scripts/export_onnx.py, which writes text_encoder.onnx,
// unet.onnx, vae_decoder.onnx, vocoder.onnx and manifest.json to OutDir.
func ExportONNX(ctx context.Context, opts ExportOptions) error {
	if opts.CheckpointDir == "" {
		return fmt.Errorf("checkpoint dir is required")
	}
	if opts.OutDir == "" {
		return fmt.Errorf("out dir is required")
	}
	if opts.Opset == 0 {
		opts.Opset = 17
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	if opts.TextEncoder == "" {
		var main MainConfig
		if err := readJSON(filepath.Join(opts.CheckpointDir, "main_config.json"), &main); err != nil {
			return err
		}
		opts.TextEncoder = main.TextEncoderName
	}
	if opts.TextEncoder == "" {
		opts.TextEncoder = RepoTextEncoder
	}

	pythonBin := opts.PythonBin
	if pythonBin == "" {
		pythonBin = DetectExportPython()
	}
	if err := ValidateExportTooling(ctx, pythonBin); err != nil {
		return err
	}

	scriptPath, err := resolveScriptPath(filepath.Join("scripts", "export_onnx.py"))
	if err != nil {
		return fmt.Errorf("resolve export helper: %w", err)
	}

	args := []string{
		scriptPath,
		"--checkpoint-dir", opts.CheckpointDir,
		"--out-dir", opts.OutDir,
		"--text-encoder", opts.TextEncoder,
		"--opset", strconv.Itoa(opts.Opset),
	}
	if opts.FP16 {
		args = append(args, "--fp16")
	}

	cmd := exec.CommandContext(ctx, pythonBin, args...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run ONNX export helper: %w", err)
	}

	return nil
}

// ValidateExportTooling checks that pythonBin exists and can import every
// package the export script needs.
func ValidateExportTooling(ctx context.Context, pythonBin string) error {
	if _, err := exec.LookPath(pythonBin); err != nil {
		return fmt.Errorf("python interpreter %q not found: %w", pythonBin, err)
	}

	check := exec.CommandContext(ctx, pythonBin, "-c", "import "+strings.Join(exportModules, ", "))
	check.Stdout = io.Discard
	check.Stderr = os.Stderr
	if err := check.Run(); err != nil {
		return fmt.Errorf("python tooling dependencies missing for export (need %v): %w", exportModules, err)
	}
	return nil
}
