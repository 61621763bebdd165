package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/example/go-tango/internal/config"
	"github.com/example/go-tango/internal/server"
	"github.com/example/go-tango/internal/tango"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	envFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "tango",
		Short:         "Tango text-to-audio command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				DotEnvFile: envFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newModelCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := server.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.ModelDir == "" {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return activeCfg, nil
}

// generator is the part of tango.Service the commands drive.
type generator interface {
	server.Generator
	GenerateBatch(ctx context.Context, prompts []string, opts tango.Options, progress tango.BatchProgress) ([][]float32, error)
	Close()
}

// newGenerator loads the model; tests replace it with a stub pipeline.
var newGenerator = func(cfg config.Config) (generator, error) {
	svc, err := tango.New(cfg)
	if err != nil {
		return nil, err
	}
	return svc, nil
}
