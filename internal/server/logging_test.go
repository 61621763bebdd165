package server_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/example/go-tango/internal/server"
)

// capturingHandler captures all slog records during a test.
type capturingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (c *capturingHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }
func (c *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
	return nil
}
func (c *capturingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return c }
func (c *capturingHandler) WithGroup(_ string) slog.Handler      { return c }

func (c *capturingHandler) find(msg string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.Message != msg {
			continue
		}
		m := make(map[string]any)
		r.Attrs(func(a slog.Attr) bool {
			m[a.Key] = a.Value.Any()
			return true
		})
		return m, true
	}
	return nil, false
}

func TestAPI_LogsPromptLenAndWAVBytes(t *testing.T) {
	logs := &capturingHandler{}
	h, _ := newTestHandler(t, &stubGenerator{wave: []float32{0, 0}}, server.WithLogger(slog.New(logs)))

	if rec := postJSON(h, `{"prompt":"A dog barking"}`); rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	attrs, ok := logs.find("generation complete")
	if !ok {
		t.Fatal("no 'generation complete' record")
	}
	if attrs["prompt_len"] != int64(len("A dog barking")) {
		t.Errorf("prompt_len = %v", attrs["prompt_len"])
	}
	if _, ok := attrs["wav_bytes"]; !ok {
		t.Error("want wav_bytes attribute in log record")
	}
}

func TestForm_LogsOutputFile(t *testing.T) {
	logs := &capturingHandler{}
	h, _ := newTestHandler(t, &stubGenerator{wave: []float32{0}}, server.WithLogger(slog.New(logs)))

	if rec := postForm(h, url.Values{"prompt": {"rain"}}); rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	attrs, ok := logs.find("generation complete")
	if !ok {
		t.Fatal("no 'generation complete' record")
	}
	if file, _ := attrs["file"].(string); file == "" {
		t.Error("want file attribute in log record")
	}
}

func TestAPI_LogsErrorOnFailure(t *testing.T) {
	logs := &capturingHandler{}
	h, _ := newTestHandler(t, &stubGenerator{err: errGenFailed}, server.WithLogger(slog.New(logs)))

	if rec := postJSON(h, `{"prompt":"rain"}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}

	attrs, ok := logs.find("generation failed")
	if !ok {
		t.Fatal("no 'generation failed' record")
	}
	if attrs["error"] != "generation failed" {
		t.Errorf("error attr = %v", attrs["error"])
	}
	if _, ok := attrs["duration_ms"]; !ok {
		t.Error("want duration_ms attribute in log record")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		level   string
		wantLvl slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}

	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			lvl, err := server.ParseLogLevel(tc.level)
			if err != nil {
				t.Fatalf("ParseLogLevel(%q) error: %v", tc.level, err)
			}
			if lvl != tc.wantLvl {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.level, lvl, tc.wantLvl)
			}
		})
	}
}

func TestParseLogLevel_InvalidLevelReturnsError(t *testing.T) {
	if _, err := server.ParseLogLevel("verbose"); err == nil {
		t.Error("want error for unknown log level")
	}
}
