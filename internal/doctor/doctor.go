// Package doctor provides environment preflight checks for tango.
package doctor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check. Nil funcs and
// empty paths skip the corresponding check.
type Config struct {
	// ONNXRuntime resolves the ONNX Runtime shared library and describes it.
	ONNXRuntime VersionFunc
	// ModelDir is the downloaded checkpoint directory; ModelFiles are the
	// files it must contain.
	ModelDir   string
	ModelFiles []string
	// LoadCheckpoint parses and validates the checkpoint configs in ModelDir.
	LoadCheckpoint func(dir string) error
	// ONNXManifest is the exported bundle manifest; CheckManifest validates it.
	ONNXManifest  string
	CheckManifest func(path string) error
	// TokenizerModel is the FLAN-T5 SentencePiece model path.
	TokenizerModel string
	// PythonVersion returns the Python version string (e.g. "3.11.4").
	PythonVersion VersionFunc
	// SkipPython skips the Python checks when no export is needed.
	SkipPython bool
	// ExportTooling checks the Python modules used by `tango model export`.
	ExportTooling func() error
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- ONNX Runtime -----------------------------------------------------
	if cfg.ONNXRuntime != nil {
		desc, err := cfg.ONNXRuntime()
		if err != nil {
			res.fail(fmt.Sprintf("onnxruntime: %v", err))
			fmt.Fprintf(w, "%s onnxruntime: not found (%v)\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s onnxruntime: %s\n", PassMark, desc)
		}
	}

	// ---- checkpoint -------------------------------------------------------
	if cfg.ModelDir != "" {
		missing := 0
		for _, name := range cfg.ModelFiles {
			path := filepath.Join(cfg.ModelDir, name)
			if _, err := os.Stat(path); err != nil {
				missing++
				res.fail(fmt.Sprintf("model file %q: %v", path, err))
				fmt.Fprintf(w, "%s model file %s: not found\n", FailMark, path)
			}
		}
		if missing == 0 {
			fmt.Fprintf(w, "%s model files: %d present in %s\n", PassMark, len(cfg.ModelFiles), cfg.ModelDir)

			if cfg.LoadCheckpoint != nil {
				if err := cfg.LoadCheckpoint(cfg.ModelDir); err != nil {
					res.fail(fmt.Sprintf("checkpoint configs: %v", err))
					fmt.Fprintf(w, "%s checkpoint configs: %v\n", FailMark, err)
				} else {
					fmt.Fprintf(w, "%s checkpoint configs: ok\n", PassMark)
				}
			}
		}
	}

	// ---- ONNX bundle ------------------------------------------------------
	if cfg.ONNXManifest != "" {
		if _, err := os.Stat(cfg.ONNXManifest); err != nil {
			res.fail(fmt.Sprintf("onnx manifest %q: %v", cfg.ONNXManifest, err))
			fmt.Fprintf(w, "%s onnx manifest %s: not found (run `tango model export` or `tango model bundle`)\n", FailMark, cfg.ONNXManifest)
		} else if cfg.CheckManifest != nil {
			if err := cfg.CheckManifest(cfg.ONNXManifest); err != nil {
				res.fail(fmt.Sprintf("onnx manifest: %v", err))
				fmt.Fprintf(w, "%s onnx manifest: %v\n", FailMark, err)
			} else {
				fmt.Fprintf(w, "%s onnx manifest: %s\n", PassMark, cfg.ONNXManifest)
			}
		} else {
			fmt.Fprintf(w, "%s onnx manifest: %s\n", PassMark, cfg.ONNXManifest)
		}
	}

	// ---- tokenizer --------------------------------------------------------
	if cfg.TokenizerModel != "" {
		if _, err := os.Stat(cfg.TokenizerModel); err != nil {
			res.fail(fmt.Sprintf("tokenizer model %q: %v", cfg.TokenizerModel, err))
			fmt.Fprintf(w, "%s tokenizer model %s: not found\n", FailMark, cfg.TokenizerModel)
		} else {
			fmt.Fprintf(w, "%s tokenizer model: %s\n", PassMark, cfg.TokenizerModel)
		}
	}

	// ---- Python export tooling --------------------------------------------
	if cfg.SkipPython {
		fmt.Fprintf(w, "%s python: skipped\n", PassMark)
		return res
	}
	if cfg.PythonVersion != nil {
		pyVer, err := cfg.PythonVersion()
		switch {
		case err != nil:
			res.fail(fmt.Sprintf("python version: %v", err))
			fmt.Fprintf(w, "%s python version: not found (%v)\n", FailMark, err)
		default:
			if pyErr := checkPythonVersion(pyVer); pyErr != nil {
				res.fail(fmt.Sprintf("python version: %v", pyErr))
				fmt.Fprintf(w, "%s python version %s: %v\n", FailMark, pyVer, pyErr)
			} else {
				fmt.Fprintf(w, "%s python version: %s\n", PassMark, pyVer)
			}
		}
	}
	if cfg.ExportTooling != nil {
		if err := cfg.ExportTooling(); err != nil {
			res.fail(fmt.Sprintf("export tooling: %v", err))
			fmt.Fprintf(w, "%s export tooling: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s export tooling: ok\n", PassMark)
		}
	}

	return res
}

// checkPythonVersion returns an error if ver is outside [3.9, 3.13).
// ver is expected to be a string like "3.11.4".
func checkPythonVersion(ver string) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 3 {
		return fmt.Errorf("requires Python 3, got %d", major)
	}
	if minor < 9 {
		return fmt.Errorf("requires Python >=3.9, got 3.%d", minor)
	}
	if minor >= 13 {
		return fmt.Errorf("requires Python <3.13 for the audioldm export, got 3.%d", minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
