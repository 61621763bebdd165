package onnx

import (
	"context"
	"errors"
	"fmt"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

const defaultAPIVersion uint32 = 23

// RunnerConfig selects the ORT library and per-session settings.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
	// Threads is the intra-op thread count of each session; 0 lets ORT
	// decide.
	Threads int
}

func (c RunnerConfig) apiVersion() uint32 {
	if c.APIVersion == 0 {
		return defaultAPIVersion
	}
	return c.APIVersion
}

// sessionOptions returns nil when every setting is left to ORT.
func (c RunnerConfig) sessionOptions() *ort.SessionOptions {
	if c.Threads <= 0 {
		return nil
	}
	return &ort.SessionOptions{IntraOpNumThreads: c.Threads}
}

// Runner owns the ORT runtime, env and session of one exported graph.
type Runner struct {
	graph   string
	rt      *ort.Runtime
	env     *ort.Env
	session *ort.Session
}

// NewRunner loads the graph described by meta.
func NewRunner(meta Session, cfg RunnerConfig) (*Runner, error) {
	r := &Runner{graph: meta.Name}
	var err error
	if r.rt, err = ort.NewRuntime(cfg.LibraryPath, cfg.apiVersion()); err != nil {
		return nil, fmt.Errorf("%s: load onnxruntime: %w", meta.Name, err)
	}
	if r.env, err = r.rt.NewEnv("tango-"+meta.Name, ort.LoggingLevelWarning); err != nil {
		r.Close()
		return nil, fmt.Errorf("%s: create env: %w", meta.Name, err)
	}
	if r.session, err = r.rt.NewSession(r.env, meta.Path, cfg.sessionOptions()); err != nil {
		r.Close()
		return nil, fmt.Errorf("%s: open %s: %w", meta.Name, meta.Path, err)
	}
	return r, nil
}

// Run feeds the named inputs to the graph and copies every output back into
// Go memory.
func (r *Runner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if r.session == nil {
		return nil, fmt.Errorf("%s: runner is closed", r.graph)
	}

	feeds := make(map[string]*ort.Value, len(inputs))
	defer releaseValues(feeds)
	for name, t := range inputs {
		v, err := toValue(r.rt, t)
		if err != nil {
			return nil, fmt.Errorf("%s: input %q: %w", r.graph, name, err)
		}
		feeds[name] = v
	}

	fetched, err := r.session.Run(ctx, feeds)
	if err != nil {
		return nil, fmt.Errorf("%s: run: %w", r.graph, err)
	}
	defer releaseValues(fetched)

	out := make(map[string]*Tensor, len(fetched))
	for name, v := range fetched {
		t, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: output %q: %w", r.graph, name, err)
		}
		out[name] = t
	}
	return out, nil
}

// Close releases the ORT handles in reverse order of creation. It may be
// called more than once.
func (r *Runner) Close() {
	if r.session != nil {
		r.session.Close()
		r.session = nil
	}
	if r.env != nil {
		r.env.Close()
		r.env = nil
	}
	if r.rt != nil {
		_ = r.rt.Close()
		r.rt = nil
	}
}

// Name is the manifest graph name.
func (r *Runner) Name() string {
	return r.graph
}

var errUnsupportedDType = errors.New("unsupported element type")

func toValue(rt *ort.Runtime, t *Tensor) (*ort.Value, error) {
	switch data := t.Data().(type) {
	case []float32:
		return ort.NewTensorValue(rt, data, t.Shape())
	case []int64:
		return ort.NewTensorValue(rt, data, t.Shape())
	default:
		return nil, fmt.Errorf("%w %T", errUnsupportedDType, data)
	}
}

func fromValue(v *ort.Value) (*Tensor, error) {
	et, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("element type: %w", err)
	}

	switch et {
	case ort.ONNXTensorElementDataTypeFloat:
		return copyOut[float32](v)
	case ort.ONNXTensorElementDataTypeInt64:
		return copyOut[int64](v)
	default:
		return nil, fmt.Errorf("%w %d", errUnsupportedDType, et)
	}
}

func copyOut[T float32 | int64](v *ort.Value) (*Tensor, error) {
	data, shape, err := ort.GetTensorData[T](v)
	if err != nil {
		return nil, err
	}
	return NewTensor(data, shape)
}

func releaseValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
