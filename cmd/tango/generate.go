package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/go-tango/internal/audio"
	"github.com/example/go-tango/internal/tango"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// genFlags are the per-call overrides shared by generate, batch and bench.
// Zero values fall back to the generate section of the config.
type genFlags struct {
	steps    int
	guidance float64
	samples  int
	seed     uint64
}

func (f *genFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.steps, "steps", 0, "Diffusion steps (0 = config default)")
	cmd.Flags().Float64Var(&f.guidance, "guidance", 0, "Classifier-free guidance scale (0 = config default, 1 disables guidance)")
	cmd.Flags().IntVar(&f.samples, "samples", 0, "Samples generated per prompt (0 = config default)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Noise seed (0 = config default)")
}

func (f *genFlags) options() tango.Options {
	return tango.Options{
		Steps:    f.steps,
		Guidance: f.guidance,
		Samples:  f.samples,
		Seed:     f.seed,
	}
}

func newGenerateCmd() *cobra.Command {
	var (
		prompt   string
		out      string
		progress bool
		flags    genFlags
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate audio for one text prompt and write it as WAV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			input, err := resolvePrompt(prompt, args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			gen, err := newGenerator(cfg)
			if err != nil {
				return fmt.Errorf("load model: %w", err)
			}
			defer gen.Close()

			opts := flags.options()
			var bar *progressbar.ProgressBar
			if progress && out != "-" {
				opts.StepProgress = func(step, total int) {
					if bar == nil {
						bar = newBar(total, "denoising", cmd.ErrOrStderr())
					}
					_ = bar.Set(step)
				}
			}

			start := time.Now()
			wave, err := gen.Generate(cmd.Context(), input, opts)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}

			err = writeWaveform(out, wave, gen.SampleRate(), gen.SampleWidth(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if out != "-" {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s audio in %s)\n",
					out,
					audio.Duration(len(wave), gen.SampleRate()).Round(time.Millisecond),
					time.Since(start).Round(time.Millisecond),
				)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Text prompt (if empty, the first argument or stdin is used)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().BoolVar(&progress, "progress", true, "Render a denoising progress bar on stderr")
	flags.register(cmd)

	return cmd
}

// resolvePrompt takes --prompt, then the positional argument, then stdin.
func resolvePrompt(flag string, args []string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(flag) != "" {
		return flag, nil
	}
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	if stdin == nil {
		return "", errors.New("prompt is required")
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", errors.New("prompt is required (use --prompt, an argument or stdin)")
	}
	return strings.TrimSpace(string(b)), nil
}

// writeWaveform encodes wave as PCM WAV to outPath, or to stdout for "-".
func writeWaveform(outPath string, wave []float32, sampleRate, sampleWidth int, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return errors.New("stdout writer is nil")
		}
		data, err := audio.EncodeWAV(wave, sampleRate, sampleWidth)
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	}

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	return audio.WriteWAVFile(outPath, wave, sampleRate, sampleWidth)
}

func newBar(total int, desc string, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
