package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/go-tango/internal/tango"
	"github.com/example/go-tango/internal/text"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const maxSlugLen = 40

func newBatchCmd() *cobra.Command {
	var (
		file      string
		outDir    string
		batchSize int
		progress  bool
		flags     genFlags
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Generate audio for every prompt in a file, one prompt per line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if file == "" {
				return errors.New("--file is required ('-' reads prompts from stdin)")
			}

			prompts, err := readPromptFile(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(prompts) == 0 {
				return fmt.Errorf("no prompts in %s", file)
			}
			if outDir == "" {
				outDir = cfg.Paths.OutputDir
			}

			gen, err := newGenerator(cfg)
			if err != nil {
				return fmt.Errorf("load model: %w", err)
			}
			defer gen.Close()

			opts := flags.options()
			opts.BatchSize = batchSize

			var bar *progressbar.ProgressBar
			var report tango.BatchProgress
			if progress {
				bar = newBar(len(prompts), "prompts", cmd.ErrOrStderr())
				report = func(done, _ int) { _ = bar.Set(done) }
			}

			waves, err := gen.GenerateBatch(cmd.Context(), prompts, opts, report)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}

			samples := len(waves) / len(prompts)
			paths, err := writeBatch(outDir, prompts, waves, samples, gen.SampleRate(), gen.SampleWidth())
			if err != nil {
				return err
			}
			for _, p := range paths {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), p); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Prompt file, one prompt per line ('-' for stdin)")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Directory for the generated WAV files (default paths.output_dir)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Prompts per inference batch (0 = config default)")
	cmd.Flags().BoolVar(&progress, "progress", true, "Render a prompt progress bar on stderr")
	flags.register(cmd)

	return cmd
}

func readPromptFile(path string, stdin io.Reader) ([]string, error) {
	if path == "-" {
		return text.ReadPrompts(stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prompt file: %w", err)
	}
	defer f.Close()

	return text.ReadPrompts(f)
}

// writeBatch writes waves, grouped samples-per-prompt in prompt order, as
// <outDir>/<NNN>_<slug>.wav, adding a _s<k> suffix when samples > 1.
func writeBatch(outDir string, prompts []string, waves [][]float32, samples, sampleRate, sampleWidth int) ([]string, error) {
	if samples < 1 {
		samples = 1
	}
	var groups [][][]float32
	if samples > 1 {
		var err error
		groups, err = tango.Chunks(waves, samples)
		if err != nil {
			return nil, err
		}
	} else {
		groups = make([][][]float32, len(waves))
		for i, w := range waves {
			groups[i] = [][]float32{w}
		}
	}
	if len(groups) != len(prompts) {
		return nil, fmt.Errorf("got %d waveform groups for %d prompts", len(groups), len(prompts))
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	paths := make([]string, 0, len(waves))
	for i, group := range groups {
		base := fmt.Sprintf("%03d_%s", i+1, slugify(prompts[i]))
		for k, wave := range group {
			name := base + ".wav"
			if samples > 1 {
				name = fmt.Sprintf("%s_s%d.wav", base, k+1)
			}
			path := filepath.Join(outDir, name)
			if err := writeWaveform(path, wave, sampleRate, sampleWidth, nil); err != nil {
				return nil, fmt.Errorf("prompt %d: %w", i+1, err)
			}
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// slugify keeps the lowercase ASCII letters and digits of s and collapses
// every other run of characters to "-".
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if b.Len() >= maxSlugLen {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "prompt"
	}
	return out
}
