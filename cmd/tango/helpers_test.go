package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/example/go-tango/internal/config"
	"github.com/example/go-tango/internal/tango"
)

const stubSampleRate = 16000

// stubPipeline returns 0.1 s of constant audio per prompt and sample.
type stubPipeline struct {
	calls  [][]string
	params []tango.Params
	closed bool
}

func (s *stubPipeline) Run(_ context.Context, prompts []string, p tango.Params) ([][]float32, error) {
	s.calls = append(s.calls, append([]string(nil), prompts...))
	s.params = append(s.params, p)
	if p.Progress != nil {
		for step := 1; step <= p.Steps; step++ {
			p.Progress(step, p.Steps)
		}
	}

	out := make([][]float32, 0, len(prompts)*p.Samples)
	for range len(prompts) * p.Samples {
		wave := make([]float32, stubSampleRate/10)
		for i := range wave {
			wave[i] = 0.25
		}
		out = append(out, wave)
	}
	return out, nil
}

func (s *stubPipeline) Close() { s.closed = true }

// useStubGenerator routes newGenerator to a stub pipeline for the test.
func useStubGenerator(t *testing.T) *stubPipeline {
	t.Helper()

	p := &stubPipeline{}
	orig := newGenerator
	newGenerator = func(cfg config.Config) (generator, error) {
		svc := tango.NewWithPipeline(p, tango.Info{Repo: cfg.HF.Repo, ModelSampleRate: stubSampleRate})
		return svc.WithDefaults(cfg.Generate), nil
	}
	t.Cleanup(func() { newGenerator = orig })

	return p
}

func useFailingGenerator(t *testing.T) {
	t.Helper()

	orig := newGenerator
	newGenerator = func(config.Config) (generator, error) {
		return nil, errors.New("incomplete checkpoint")
	}
	t.Cleanup(func() { newGenerator = orig })
}

// runRoot executes the root command in a fresh temp working directory.
func runRoot(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	t.Chdir(t.TempDir())
	origCfg := activeCfg
	t.Cleanup(func() { activeCfg = origCfg })

	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}
