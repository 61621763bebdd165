package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/example/go-tango/internal/config"
	"github.com/example/go-tango/internal/doctor"
	"github.com/example/go-tango/internal/model"
	"github.com/example/go-tango/internal/onnx"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	var (
		skipPython bool
		verify     bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			result := doctor.Run(doctorConfig(cmd.Context(), cfg, skipPython), stdout)

			if verify {
				verifyErr := model.VerifyONNX(cmd.Context(), model.VerifyOptions{
					ManifestPath:  cfg.Paths.ONNXManifest,
					ORTLibrary:    cfg.Runtime.ORTLibraryPath,
					ORTAPIVersion: cfg.Runtime.ORTAPIVersion,
					Threads:       cfg.Runtime.Threads,
					Stdout:        stdout,
					Stderr:        cmd.ErrOrStderr(),
				})
				if verifyErr != nil {
					result.AddFailure(fmt.Sprintf("model verify: %v", verifyErr))
					_, _ = fmt.Fprintf(stdout, "%s model verify: %v\n", doctor.FailMark, verifyErr)
				} else {
					_, _ = fmt.Fprintf(stdout, "%s model verify: ok\n", doctor.PassMark)
				}
			}

			return reportDoctor(result, stdout, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&skipPython, "skip-python", false, "Skip the Python export tooling checks")
	cmd.Flags().BoolVar(&verify, "verify", false, "Also run a zero-input smoke inference on every ONNX graph")

	return cmd
}

// doctorConfig wires the doctor checks to the model, onnx and python probes.
func doctorConfig(ctx context.Context, cfg config.Config, skipPython bool) doctor.Config {
	python := model.DetectExportPython()

	return doctor.Config{
		ONNXRuntime: func() (string, error) {
			info, err := onnx.DetectRuntime(cfg.Runtime)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (version %s)", info.LibraryPath, info.Version), nil
		},
		ModelDir:   cfg.Paths.ModelDir,
		ModelFiles: append(append([]string(nil), model.CheckpointFiles...), model.SchedulerConfigFile),
		LoadCheckpoint: func(dir string) error {
			_, err := model.LoadCheckpoint(dir)
			return err
		},
		ONNXManifest:   cfg.Paths.ONNXManifest,
		CheckManifest:  checkManifest,
		TokenizerModel: cfg.Paths.TokenizerModel,
		PythonVersion: func() (string, error) {
			return probePythonVersion(ctx, python)
		},
		SkipPython: skipPython,
		ExportTooling: func() error {
			return model.ValidateExportTooling(ctx, python)
		},
	}
}

// checkManifest parses the bundle manifest and requires every Tango graph.
func checkManifest(path string) error {
	b, err := onnx.OpenBundle(path)
	if err != nil {
		return err
	}
	return b.Require(onnx.RequiredGraphs...)
}

func reportDoctor(result doctor.Result, stdout, stderr io.Writer) error {
	if result.Failed() {
		for _, f := range result.Failures() {
			// #nosec G705 -- Writes plain diagnostic text to stderr for CLI output, not HTML rendering.
			_, _ = fmt.Fprintf(stderr, "FAIL: %s\n", f)
		}

		return errors.New("doctor checks failed")
	}

	_, _ = fmt.Fprintln(stdout, "doctor checks passed")

	return nil
}

// probePythonVersion runs `<bin> --version` and returns the bare version.
func probePythonVersion(ctx context.Context, bin string) (string, error) {
	out, err := exec.CommandContext(ctx, bin, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s --version failed: %w", bin, err)
	}
	// Output is e.g. "Python 3.11.4\n"
	raw := strings.TrimPrefix(strings.TrimSpace(string(out)), "Python ")
	if raw == "" {
		return "", fmt.Errorf("%s --version printed nothing", bin)
	}

	return raw, nil
}
