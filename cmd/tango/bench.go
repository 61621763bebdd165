package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/example/go-tango/internal/bench"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		prompt       string
		runs         int
		format       string
		rtfThreshold float64
		cpuProfile   string
		flags        genFlags
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark generation latency and realtime factor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if strings.TrimSpace(prompt) == "" {
				return errors.New("--prompt is required for bench")
			}
			if runs < 1 {
				return errors.New("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return errors.New("--format must be 'table' or 'json'")
			}

			gen, err := newGenerator(cfg)
			if err != nil {
				return fmt.Errorf("load model: %w", err)
			}
			defer gen.Close()

			if cpuProfile != "" {
				stop, err := startCPUProfile(cpuProfile)
				if err != nil {
					return err
				}
				defer stop()
			}

			results, err := bench.Run(cmd.Context(), gen, bench.Options{
				Prompt:   prompt,
				Runs:     runs,
				Generate: flags.options(),
			})
			if err != nil {
				return err
			}

			stats := bench.ComputeStats(bench.Durations(results))
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				bench.FormatJSON(results, stats, out)
			default:
				bench.FormatTable(results, stats, out)
			}

			return bench.CheckRTFThreshold(bench.MeanRTF(results), rtfThreshold)
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt generated on each run (required)")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of generation runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Exit non-zero if mean RTF exceeds this value (0 = disabled)")
	cmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile of the runs to this file")
	flags.register(cmd)

	return cmd
}

func startCPUProfile(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create cpu profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("start cpu profile: %w", err)
	}

	return func() {
		pprof.StopCPUProfile()
		_ = f.Close()
	}, nil
}
