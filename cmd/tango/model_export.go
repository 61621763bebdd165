package main

import (
	"fmt"

	"github.com/example/go-tango/internal/model"
	"github.com/spf13/cobra"
)

func newModelExportCmd() *cobra.Command {
	var (
		checkpointDir string
		outDir        string
		textEncoder   string
		opset         int
		fp16          bool
		pythonBin     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the Tango PyTorch checkpoint to ONNX graphs",
		Long: "Export the Tango PyTorch checkpoint to ONNX graphs.\n\n" +
			"This is a tooling command and requires Python with torch/onnx/audioldm/diffusers/transformers.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if checkpointDir == "" {
				checkpointDir = cfg.Paths.ModelDir
			}
			if outDir == "" {
				outDir = manifestDir(cfg.Paths.ONNXManifest)
			}
			if pythonBin == "" {
				pythonBin = model.DetectExportPython()
			}

			err = model.ExportONNX(cmd.Context(), model.ExportOptions{
				CheckpointDir: checkpointDir,
				OutDir:        outDir,
				TextEncoder:   textEncoder,
				Opset:         opset,
				FP16:          fp16,
				PythonBin:     pythonBin,
				Stdout:        cmd.OutOrStdout(),
				Stderr:        cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf(
					"model export failed: %w\nhint: this command requires Python tooling (torch, onnx, audioldm, diffusers)",
					err,
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "Downloaded checkpoint directory (default paths.model_dir)")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Directory for ONNX output files (default: directory of paths.onnx_manifest)")
	cmd.Flags().StringVar(&textEncoder, "text-encoder", "", "Hugging Face id of the FLAN-T5 encoder (default from main_config.json)")
	cmd.Flags().IntVar(&opset, "opset", 17, "ONNX opset version")
	cmd.Flags().BoolVar(&fp16, "fp16", false, "Export the UNet and VAE in float16")
	cmd.Flags().StringVar(&pythonBin, "python-bin", "", "Python interpreter for the export script (auto-detected by default)")

	return cmd
}
