package main

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/go-tango/internal/config"
	"github.com/example/go-tango/internal/server"
)

func TestHealthCmd_OK(t *testing.T) {
	useStubGenerator(t)
	gen, err := newGenerator(config.DefaultConfig())
	if err != nil {
		t.Fatalf("newGenerator: %v", err)
	}
	srv := httptest.NewServer(server.NewHandler(gen, server.WithOutputDir(t.TempDir())))
	t.Cleanup(srv.Close)

	stdout, _, err := runRoot(t, "", "health", "--addr", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if strings.TrimSpace(stdout) != "ok" {
		t.Errorf("stdout = %q, want ok", stdout)
	}
}

func TestHealthCmd_Unreachable(t *testing.T) {
	_, _, err := runRoot(t, "", "health", "--addr", "127.0.0.1:1")
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
}
