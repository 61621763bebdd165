package main

import (
	"fmt"

	"github.com/example/go-tango/internal/model"
	"github.com/spf13/cobra"
)

func newModelVerifyCmd() *cobra.Command {
	var manifestPath string
	var ortAPIVersion uint32

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run a zero-input smoke inference on every graph of the ONNX bundle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if manifestPath == "" {
				manifestPath = cfg.Paths.ONNXManifest
			}
			if ortAPIVersion == 0 {
				ortAPIVersion = cfg.Runtime.ORTAPIVersion
			}

			err = model.VerifyONNX(cmd.Context(), model.VerifyOptions{
				ManifestPath:  manifestPath,
				ORTLibrary:    cfg.Runtime.ORTLibraryPath,
				ORTAPIVersion: ortAPIVersion,
				Threads:       cfg.Runtime.Threads,
				Stdout:        cmd.OutOrStdout(),
				Stderr:        cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("model verify failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to ONNX manifest.json (default paths.onnx_manifest)")
	cmd.Flags().Uint32Var(&ortAPIVersion, "ort-api-version", 0, "ONNX Runtime C API version expected by the purego binding (default runtime.ort_api_version)")

	return cmd
}
