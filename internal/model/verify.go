package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/example/go-tango/internal/onnx"
)

type VerifyOptions struct {
	ManifestPath  string
	ORTLibrary    string
	ORTAPIVersion uint32
	// Threads is the intra-op thread count of each smoke session.
	Threads int
	Stdout  io.Writer
	Stderr  io.Writer
}

var runNativeVerify = runNativeVerifyImpl

func (o VerifyOptions) runnerConfig() onnx.RunnerConfig {
	return onnx.RunnerConfig{LibraryPath: o.ORTLibrary, APIVersion: o.ORTAPIVersion, Threads: o.Threads}
}

// VerifyONNX checks the bundle manifest lists every Tango graph with valid
// input metadata, then loads each graph and runs it once on zero inputs.
func VerifyONNX(ctx context.Context, opts VerifyOptions) error {
	if opts.ManifestPath == "" {
		return errors.New("manifest path is required")
	}

	if opts.ORTAPIVersion == 0 {
		opts.ORTAPIVersion = 23
	}

	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}

	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	bundle, err := onnx.OpenBundle(opts.ManifestPath)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	if err := bundle.Require(onnx.RequiredGraphs...); err != nil {
		return err
	}

	for _, session := range bundle.Graphs() {
		if _, err := zeroInputs(session); err != nil {
			return err
		}
	}

	return runNativeVerify(ctx, bundle.Graphs(), opts)
}

func runNativeVerifyImpl(ctx context.Context, sessions []onnx.Session, opts VerifyOptions) error {
	cfg := opts.runnerConfig()

	var failures []string

	for _, session := range sessions {
		if err := runSessionSmoke(ctx, session, cfg); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "FAIL %s: %v\n", session.Name, err)
			failures = append(failures, session.Name)

			continue
		}

		_, _ = fmt.Fprintf(opts.Stdout, "PASS %s\n", session.Name)
	}

	if len(failures) > 0 {
		return fmt.Errorf("verify failed for %d session(s): %s", len(failures), strings.Join(failures, ", "))
	}

	return nil
}

func runSessionSmoke(ctx context.Context, session onnx.Session, cfg onnx.RunnerConfig) error {
	runner, err := onnx.NewRunner(session, cfg)
	if err != nil {
		return fmt.Errorf("load session model: %w", err)
	}
	defer runner.Close()

	inputs, err := zeroInputs(session)
	if err != nil {
		return err
	}

	if _, err := runner.Run(ctx, inputs); err != nil {
		return fmt.Errorf("run inference: %w", err)
	}

	return nil
}

// zeroInputs builds a zero tensor for every declared input; symbolic dims
// become 1.
func zeroInputs(session onnx.Session) (map[string]*onnx.Tensor, error) {
	inputs := make(map[string]*onnx.Tensor, len(session.Inputs))
	for _, input := range session.Inputs {
		t, err := onnx.NewZeroTensor(input.DType, input.Shape)
		if err != nil {
			return nil, fmt.Errorf("session %q input %q invalid: %w", session.Name, input.Name, err)
		}
		inputs[input.Name] = t
	}
	return inputs, nil
}
