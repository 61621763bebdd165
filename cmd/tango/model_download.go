package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/example/go-tango/internal/config"
	"github.com/example/go-tango/internal/model"
	"github.com/spf13/cobra"
)

func newModelDownloadCmd() *cobra.Command {
	var (
		repo          string
		outDir        string
		skipTokenizer bool
		progress      bool
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the Tango checkpoint, scheduler config and tokenizer from Hugging Face",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if repo == "" {
				repo = cfg.HF.Repo
			}
			if outDir == "" {
				outDir = cfg.Paths.ModelDir
			}

			for _, job := range downloadJobs(cfg, repo, outDir, skipTokenizer) {
				err := model.Download(cmd.Context(), model.DownloadOptions{
					Repo:     job.repo,
					OutDir:   job.outDir,
					HFToken:  cfg.HF.Token,
					Progress: progress,
					Stdout:   cmd.OutOrStdout(),
					Stderr:   cmd.ErrOrStderr(),
				})
				if err == nil {
					continue
				}

				var denied *model.ErrAccessDenied
				if errors.As(err, &denied) && cfg.HF.Token == "" {
					return fmt.Errorf("model download failed: %w\nhint: set HF_TOKEN or --hf-token for gated repositories", err)
				}
				return fmt.Errorf("model download failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Checkpoint repository (default hf.repo)")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Checkpoint directory (default paths.model_dir)")
	cmd.Flags().BoolVar(&skipTokenizer, "skip-tokenizer", false, "Do not fetch the FLAN-T5 SentencePiece model")
	cmd.Flags().BoolVar(&progress, "progress", true, "Render download progress bars on stderr")

	return cmd
}

type downloadJob struct {
	repo   string
	outDir string
}

// downloadJobs lists the repos a working model directory needs: the
// checkpoint, the DDPM scheduler config next to it and the tokenizer.
func downloadJobs(cfg config.Config, repo, outDir string, skipTokenizer bool) []downloadJob {
	jobs := []downloadJob{
		{repo: repo, outDir: outDir},
		{repo: model.RepoScheduler, outDir: outDir},
	}
	if !skipTokenizer && cfg.Paths.TokenizerModel != "" {
		jobs = append(jobs, downloadJob{
			repo:   model.RepoTextEncoder,
			outDir: filepath.Dir(cfg.Paths.TokenizerModel),
		})
	}
	return jobs
}
