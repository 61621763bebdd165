package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/example/go-tango/internal/config"
	"github.com/example/go-tango/internal/tango"
)

type silentGenerator struct{}

func (silentGenerator) Generate(context.Context, string, tango.Options) ([]float32, error) {
	return make([]float32, 160), nil
}
func (silentGenerator) SampleRate() int  { return 16000 }
func (silentGenerator) SampleWidth() int { return 2 }

func TestStart_LifecycleHealthAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // free it for the server

	cfg := config.DefaultConfig()
	cfg.Server.ListenAddr = addr
	cfg.Paths.OutputDir = t.TempDir()

	s := New(cfg, silentGenerator{}).WithShutdownTimeout(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(ctx)
	}()

	client := &http.Client{Timeout: 2 * time.Second}
	var resp *http.Response
	for range 50 {
		resp, err = client.Get(fmt.Sprintf("http://%s/health", addr))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never became ready: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/health status = %d; want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode /health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q; want ok", body["status"])
	}

	if err := ProbeHTTP(addr); err != nil {
		t.Errorf("ProbeHTTP(%q) = %v", addr, err)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start() returned error on shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return within 5s of context cancel")
	}
}

func TestStart_RequiresGenerator(t *testing.T) {
	if err := New(config.DefaultConfig(), nil).Start(context.Background()); err == nil {
		t.Fatal("Start() = nil; want error without a generator")
	}
}

func TestStart_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := config.DefaultConfig()
	cfg.Server.ListenAddr = ln.Addr().String()

	if err := New(cfg, silentGenerator{}).Start(context.Background()); err == nil {
		t.Fatal("Start() = nil; want error for address in use")
	}
}
