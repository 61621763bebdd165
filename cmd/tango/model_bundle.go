package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/example/go-tango/internal/model"
	"github.com/spf13/cobra"
)

func newModelBundleCmd() *cobra.Command {
	var (
		url      string
		sha256   string
		outDir   string
		progress bool
	)

	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Fetch and extract a prebuilt ONNX bundle archive (.zip or .tar.gz)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if url == "" {
				return errors.New("--url is required")
			}
			if outDir == "" {
				outDir = manifestDir(cfg.Paths.ONNXManifest)
			}

			err = model.DownloadBundle(cmd.Context(), model.BundleOptions{
				URL:      url,
				SHA256:   sha256,
				OutDir:   outDir,
				Progress: progress,
				Stdout:   cmd.OutOrStdout(),
				Stderr:   cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("model bundle failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Bundle archive URL or local path (required)")
	cmd.Flags().StringVar(&sha256, "sha256", "", "Expected sha256 of the archive")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Extraction directory (default: directory of paths.onnx_manifest)")
	cmd.Flags().BoolVar(&progress, "progress", true, "Render download progress on stderr")

	return cmd
}

func manifestDir(manifest string) string {
	if manifest == "" {
		return filepath.Join("models", "tango", "onnx")
	}
	return filepath.Dir(manifest)
}
