// Package server exposes Tango generation through a web form, a JSON API and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/example/go-tango/internal/audio"
	"github.com/example/go-tango/internal/config"
	"github.com/example/go-tango/internal/diffusion"
	"github.com/example/go-tango/internal/tango"
	"github.com/example/go-tango/internal/text"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Generator produces a waveform for one prompt. *tango.Service satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts tango.Options) ([]float32, error)
	SampleRate() int
	SampleWidth() int
}

// Upper bounds for per-request overrides.
const (
	maxSteps    = 1000
	maxGuidance = 50
)

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxPromptBytes  int
	workers         int
	requestTimeout  time.Duration
	outputDir       string
	keepOutputs     int
	defaultSteps    int
	defaultGuidance float64
	logger          *slog.Logger
}

func defaultOptions() options {
	return options{
		maxPromptBytes:  1024,
		workers:         1,
		requestTimeout:  600 * time.Second,
		outputDir:       "outputs",
		keepOutputs:     32,
		defaultSteps:    100,
		defaultGuidance: 3,
		logger:          slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxPromptBytes sets the maximum prompt length in bytes.
func WithMaxPromptBytes(n int) Option {
	return func(o *options) { o.maxPromptBytes = n }
}

// WithWorkers sets the maximum number of concurrent generations. Zero
// disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request generation deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithOutputDir sets where form generations are written.
func WithOutputDir(dir string) Option {
	return func(o *options) { o.outputDir = dir }
}

// WithKeepOutputs limits the number of WAV files kept in the output dir.
// Zero keeps everything.
func WithKeepOutputs(n int) Option {
	return func(o *options) { o.keepOutputs = n }
}

// WithFormDefaults sets the steps and guidance prefilled in the form.
func WithFormDefaults(steps int, guidance float64) Option {
	return func(o *options) {
		o.defaultSteps = steps
		o.defaultGuidance = guidance
	}
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	gen     Generator
	opts    options
	sem     chan struct{}
	outputs *outputStore
	metrics *metrics
	log     *slog.Logger
}

// NewHandler returns an http.Handler serving the form at /, POST /generate,
// POST /api/generate, /outputs/{file}, /health and /metrics.
func NewHandler(gen Generator, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		gen:     gen,
		opts:    opts,
		outputs: newOutputStore(opts.outputDir, opts.keepOutputs),
		metrics: newMetrics(),
		log:     opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("POST /generate", h.handleForm)
	mux.HandleFunc("POST /api/generate", h.handleAPI)
	mux.HandleFunc("GET /outputs/{file}", h.handleOutput)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", h.metrics.handler())
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

// request is the validated input shared by the form and the JSON API.
type request struct {
	Prompt   string  `json:"prompt"`
	Steps    int     `json:"steps"`
	Guidance float64 `json:"guidance"`
	Seed     uint64  `json:"seed"`
}

// httpError carries the status code a handler should answer with.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func (h *handler) validate(req request) *httpError {
	switch {
	case strings.TrimSpace(req.Prompt) == "":
		return &httpError{http.StatusBadRequest, "prompt is required"}
	case len(req.Prompt) > h.opts.maxPromptBytes:
		return &httpError{http.StatusRequestEntityTooLarge,
			fmt.Sprintf("prompt exceeds maximum size of %d bytes", h.opts.maxPromptBytes)}
	case req.Steps < 0 || req.Steps > maxSteps:
		return &httpError{http.StatusBadRequest, fmt.Sprintf("steps must be between 1 and %d", maxSteps)}
	case req.Guidance < 0 || (req.Guidance > 0 && req.Guidance < 1) || req.Guidance > maxGuidance:
		return &httpError{http.StatusBadRequest,
			fmt.Sprintf("guidance must be 0 (default) or between 1 (no guidance) and %d", maxGuidance)}
	}
	return nil
}

// generate runs one generation under the worker limit and request timeout.
func (h *handler) generate(r *http.Request, endpoint string, req request) ([]float32, *httpError) {
	if herr := h.validate(req); herr != nil {
		h.metrics.observe(endpoint, herr.status, 0)
		return nil, herr
	}

	// Acquire a worker slot, honouring cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			h.metrics.observe(endpoint, http.StatusServiceUnavailable, 0)
			return nil, &httpError{http.StatusServiceUnavailable, "request cancelled while waiting for worker"}
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	h.metrics.inFlight.Inc()
	start := time.Now()
	wave, err := h.gen.Generate(ctx, req.Prompt, tango.Options{
		Steps:    req.Steps,
		Guidance: req.Guidance,
		Seed:     req.Seed,
	})
	elapsed := time.Since(start)
	h.metrics.inFlight.Dec()

	attrs := []any{
		slog.String("endpoint", endpoint),
		slog.Int("prompt_len", len(req.Prompt)),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}

	var herr *httpError
	switch {
	case err == nil:
	case errors.Is(err, text.ErrEmptyPrompt),
		errors.Is(err, diffusion.ErrInvalidSteps),
		errors.Is(err, tango.ErrInvalidGuidance):
		herr = &httpError{http.StatusBadRequest, err.Error()}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		h.log.WarnContext(r.Context(), "generation timed out", append(attrs, slog.String("error", err.Error()))...)
		herr = &httpError{http.StatusGatewayTimeout, "generation timed out"}
	default:
		h.log.ErrorContext(r.Context(), "generation failed", append(attrs, slog.String("error", err.Error()))...)
		herr = &httpError{http.StatusInternalServerError, err.Error()}
	}
	if herr != nil {
		h.metrics.observe(endpoint, herr.status, elapsed)
		return nil, herr
	}

	h.metrics.observe(endpoint, http.StatusOK, elapsed)
	return wave, nil
}

func (h *handler) handleAPI(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, int64(h.opts.maxPromptBytes)+4096)).Decode(&req); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.metrics.observe("api", status, 0)
		writeError(w, status, "invalid JSON: "+err.Error())
		return
	}

	wave, herr := h.generate(r, "api", req)
	if herr != nil {
		writeError(w, herr.status, herr.msg)
		return
	}

	wav, err := audio.EncodeWAV(wave, h.gen.SampleRate(), h.gen.SampleWidth())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.InfoContext(r.Context(), "generation complete",
		slog.String("endpoint", "api"),
		slog.Int("prompt_len", len(req.Prompt)),
		slog.Int("wav_bytes", len(wav)),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (h *handler) handleForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.opts.maxPromptBytes)+4096)
	if err := r.ParseForm(); err != nil {
		h.renderPage(w, http.StatusBadRequest, page{Error: "invalid form: " + err.Error()})
		return
	}

	view := page{
		Prompt:   r.PostFormValue("prompt"),
		Steps:    r.PostFormValue("steps"),
		Guidance: r.PostFormValue("guidance"),
	}

	req, herr := parseForm(view)
	if herr == nil {
		var wave []float32
		wave, herr = h.generate(r, "form", req)
		if herr == nil {
			name, path, err := h.outputs.save(wave, h.gen.SampleRate(), h.gen.SampleWidth())
			if err != nil {
				herr = &httpError{http.StatusInternalServerError, err.Error()}
			} else {
				view.AudioURL = "/outputs/" + name
				view.FilePath = path
				h.log.InfoContext(r.Context(), "generation complete",
					slog.String("endpoint", "form"),
					slog.Int("prompt_len", len(req.Prompt)),
					slog.String("file", path),
				)
			}
		}
	}

	status := http.StatusOK
	if herr != nil {
		status = herr.status
		view.Error = herr.msg
	}
	h.renderPage(w, status, view)
}

func parseForm(v page) (request, *httpError) {
	req := request{Prompt: v.Prompt}
	if s := strings.TrimSpace(v.Steps); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return req, &httpError{http.StatusBadRequest, "steps must be an integer"}
		}
		req.Steps = n
	}
	if s := strings.TrimSpace(v.Guidance); s != "" {
		g, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return req, &httpError{http.StatusBadRequest, "guidance must be a number"}
		}
		req.Guidance = g
	}
	return req, nil
}

func (h *handler) handleOutput(w http.ResponseWriter, r *http.Request) {
	path, ok := h.outputs.lookup(r.PathValue("file"))
	if !ok {
		writeError(w, http.StatusNotFound, "output not found")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server — wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	gen             Generator
	shutdownTimeout time.Duration
}

func New(cfg config.Config, gen Generator) *Server {
	timeout := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		timeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}
	return &Server{
		cfg:             cfg,
		gen:             gen,
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Handler builds the HTTP handler from the server config.
func (s *Server) Handler() http.Handler {
	return NewHandler(s.gen, handlerOptions(s.cfg)...)
}

func handlerOptions(cfg config.Config) []Option {
	opts := []Option{
		WithWorkers(cfg.Server.Workers),
		WithMaxPromptBytes(cfg.Server.MaxPromptBytes),
		WithOutputDir(cfg.Paths.OutputDir),
		WithKeepOutputs(cfg.Server.KeepOutputs),
		WithFormDefaults(cfg.Generate.Steps, cfg.Generate.Guidance),
	}
	if cfg.Server.RequestTimeout > 0 {
		opts = append(opts, WithRequestTimeout(time.Duration(cfg.Server.RequestTimeout)*time.Second))
	}
	return opts
}

func (s *Server) Start(ctx context.Context) error {
	if s.gen == nil {
		return errors.New("server: generator is required")
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("server listening", "addr", s.cfg.Server.ListenAddr, "outputs", s.cfg.Paths.OutputDir)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

// ProbeHTTP checks that a server answers /health on addr.
func ProbeHTTP(addr string) error {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
