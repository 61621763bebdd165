package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	HF       HFConfig       `mapstructure:"hf"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Generate GenerateConfig `mapstructure:"generate"`
	Server   ServerConfig   `mapstructure:"server"`
	LogLevel string         `mapstructure:"log_level"`
}

type PathsConfig struct {
	ModelDir       string `mapstructure:"model_dir"`
	ONNXManifest   string `mapstructure:"onnx_manifest"`
	TokenizerModel string `mapstructure:"tokenizer_model"`
	OutputDir      string `mapstructure:"output_dir"`
}

type HFConfig struct {
	Repo  string `mapstructure:"repo"`
	Token string `mapstructure:"token"`
}

type RuntimeConfig struct {
	Threads        int    `mapstructure:"threads"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	ORTAPIVersion  uint32 `mapstructure:"ort_api_version"`
}

type GenerateConfig struct {
	Steps         int     `mapstructure:"steps"`
	BatchSteps    int     `mapstructure:"batch_steps"`
	Guidance      float64 `mapstructure:"guidance"`
	Samples       int     `mapstructure:"samples"`
	BatchSize     int     `mapstructure:"batch_size"`
	SampleRate    int     `mapstructure:"sample_rate"`
	SampleWidth   int     `mapstructure:"sample_width"`
	Seed          uint64  `mapstructure:"seed"`
	MaxTextTokens int     `mapstructure:"max_text_tokens"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	MaxPromptBytes  int    `mapstructure:"max_prompt_bytes"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	KeepOutputs     int    `mapstructure:"keep_outputs"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	DotEnvFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelDir:       "models/tango",
			ONNXManifest:   "models/tango/onnx/manifest.json",
			TokenizerModel: "models/flan-t5-large/spiece.model",
			OutputDir:      "outputs",
		},
		HF: HFConfig{
			Repo:  "declare-lab/tango",
			Token: "",
		},
		Runtime: RuntimeConfig{
			Threads:        4,
			ORTLibraryPath: "",
			ORTVersion:     "",
			ORTAPIVersion:  23,
		},
		Generate: GenerateConfig{
			Steps:         100,
			BatchSteps:    200,
			Guidance:      3,
			Samples:       1,
			BatchSize:     8,
			SampleRate:    0,
			SampleWidth:   2,
			Seed:          0,
			MaxTextTokens: 512,
		},
		Server: ServerConfig{
			ListenAddr:      ":7860",
			Workers:         1,
			MaxPromptBytes:  1024,
			RequestTimeout:  600,
			ShutdownTimeout: 30,
			KeepOutputs:     32,
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-dir", defaults.Paths.ModelDir, "Directory holding the downloaded Tango checkpoint")
	fs.String("paths-onnx-manifest", defaults.Paths.ONNXManifest, "Path to the exported ONNX bundle manifest")
	fs.String("paths-tokenizer-model", defaults.Paths.TokenizerModel, "Path to the FLAN-T5 SentencePiece model")
	fs.String("paths-output-dir", defaults.Paths.OutputDir, "Directory where generated WAV files are written")
	fs.String("hf-repo", defaults.HF.Repo, "Hugging Face repository of the Tango checkpoint")
	fs.String("hf-token", defaults.HF.Token, "Hugging Face token (falls back to HF_TOKEN env var)")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "ONNX Runtime intra-op threads per session (0 = ORT default)")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Uint32("runtime-ort-api-version", defaults.Runtime.ORTAPIVersion, "ONNX Runtime C API version")
	fs.Int("generate-steps", defaults.Generate.Steps, "Diffusion steps for single-prompt generation")
	fs.Int("generate-batch-steps", defaults.Generate.BatchSteps, "Diffusion steps for batch generation")
	fs.Float64("generate-guidance", defaults.Generate.Guidance, "Classifier-free guidance scale (1 disables guidance)")
	fs.Int("generate-samples", defaults.Generate.Samples, "Samples generated per prompt")
	fs.Int("generate-batch-size", defaults.Generate.BatchSize, "Prompts per inference batch")
	fs.Int("generate-sample-rate", defaults.Generate.SampleRate, "Output WAV sample rate (0 = model rate)")
	fs.Int("generate-sample-width", defaults.Generate.SampleWidth, "Output WAV sample width in bytes")
	fs.Uint64("generate-seed", defaults.Generate.Seed, "Noise seed (0 = random)")
	fs.Int("generate-max-text-tokens", defaults.Generate.MaxTextTokens, "Maximum prompt length in tokens")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-workers", defaults.Server.Workers, "Maximum concurrent generations")
	fs.Int("server-max-prompt-bytes", defaults.Server.MaxPromptBytes, "Maximum prompt size in bytes")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request generation timeout in seconds")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
	fs.Int("server-keep-outputs", defaults.Server.KeepOutputs, "Number of generated files kept in the output dir (0 = all)")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

// LoadDotEnv loads variables from path into the process environment.
// A missing file is not an error; variables already set are not overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat dotenv file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load dotenv file %s: %w", path, err)
	}
	return nil
}

func Load(opts LoadOptions) (Config, error) {
	if err := LoadDotEnv(opts.DotEnvFile); err != nil {
		return Config{}, err
	}

	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("TANGO")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "TANGO_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	if err := v.BindEnv("hf.token", "TANGO_HF_TOKEN", "HF_TOKEN"); err != nil {
		return Config{}, fmt.Errorf("bind hf token env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("tango")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports the first generation or server setting that cannot work.
func (c Config) Validate() error {
	g := c.Generate
	switch {
	case g.Steps < 1:
		return fmt.Errorf("generate.steps must be >= 1, got %d", g.Steps)
	case g.BatchSteps < 1:
		return fmt.Errorf("generate.batch_steps must be >= 1, got %d", g.BatchSteps)
	case g.Guidance < 0 || (g.Guidance > 0 && g.Guidance < 1):
		return fmt.Errorf("generate.guidance must be 0 or >= 1, got %g", g.Guidance)
	case g.Samples < 1:
		return fmt.Errorf("generate.samples must be >= 1, got %d", g.Samples)
	case g.BatchSize < 1:
		return fmt.Errorf("generate.batch_size must be >= 1, got %d", g.BatchSize)
	case g.SampleRate < 0:
		return fmt.Errorf("generate.sample_rate must be >= 0, got %d", g.SampleRate)
	case g.SampleWidth < 1 || g.SampleWidth > 4:
		return fmt.Errorf("generate.sample_width must be 1..4 bytes, got %d", g.SampleWidth)
	case g.MaxTextTokens < 2:
		return fmt.Errorf("generate.max_text_tokens must be >= 2, got %d", g.MaxTextTokens)
	}
	if c.Runtime.Threads < 0 {
		return fmt.Errorf("runtime.threads must be >= 0, got %d", c.Runtime.Threads)
	}
	if c.Server.Workers < 0 {
		return fmt.Errorf("server.workers must be >= 0, got %d", c.Server.Workers)
	}
	if c.Server.KeepOutputs < 0 {
		return fmt.Errorf("server.keep_outputs must be >= 0, got %d", c.Server.KeepOutputs)
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("paths.onnx_manifest", c.Paths.ONNXManifest)
	v.SetDefault("paths.tokenizer_model", c.Paths.TokenizerModel)
	v.SetDefault("paths.output_dir", c.Paths.OutputDir)
	v.SetDefault("hf.repo", c.HF.Repo)
	v.SetDefault("hf.token", c.HF.Token)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("generate.steps", c.Generate.Steps)
	v.SetDefault("generate.batch_steps", c.Generate.BatchSteps)
	v.SetDefault("generate.guidance", c.Generate.Guidance)
	v.SetDefault("generate.samples", c.Generate.Samples)
	v.SetDefault("generate.batch_size", c.Generate.BatchSize)
	v.SetDefault("generate.sample_rate", c.Generate.SampleRate)
	v.SetDefault("generate.sample_width", c.Generate.SampleWidth)
	v.SetDefault("generate.seed", c.Generate.Seed)
	v.SetDefault("generate.max_text_tokens", c.Generate.MaxTextTokens)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_prompt_bytes", c.Server.MaxPromptBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.keep_outputs", c.Server.KeepOutputs)
	v.SetDefault("log_level", c.LogLevel)
}

// flagKeys maps nested config keys to their command-line flags.
var flagKeys = []struct{ key, flag string }{
	{"paths.model_dir", "paths-model-dir"},
	{"paths.onnx_manifest", "paths-onnx-manifest"},
	{"paths.tokenizer_model", "paths-tokenizer-model"},
	{"paths.output_dir", "paths-output-dir"},
	{"hf.repo", "hf-repo"},
	{"hf.token", "hf-token"},
	{"runtime.threads", "runtime-threads"},
	{"runtime.ort_library_path", "runtime-ort-library-path"},
	{"runtime.ort_version", "runtime-ort-version"},
	{"runtime.ort_api_version", "runtime-ort-api-version"},
	{"generate.steps", "generate-steps"},
	{"generate.batch_steps", "generate-batch-steps"},
	{"generate.guidance", "generate-guidance"},
	{"generate.samples", "generate-samples"},
	{"generate.batch_size", "generate-batch-size"},
	{"generate.sample_rate", "generate-sample-rate"},
	{"generate.sample_width", "generate-sample-width"},
	{"generate.seed", "generate-seed"},
	{"generate.max_text_tokens", "generate-max-text-tokens"},
	{"server.listen_addr", "server-listen-addr"},
	{"server.workers", "server-workers"},
	{"server.max_prompt_bytes", "server-max-prompt-bytes"},
	{"server.request_timeout", "server-request-timeout"},
	{"server.shutdown_timeout", "server-shutdown-timeout"},
	{"server.keep_outputs", "server-keep-outputs"},
	{"log_level", "log-level"},
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", fk.flag, err)
		}
	}
	// --ort-lib is a short alias and wins when given explicitly.
	if f := fs.Lookup("ort-lib"); f != nil && f.Changed {
		v.Set("runtime.ort_library_path", f.Value.String())
	}
	return nil
}
