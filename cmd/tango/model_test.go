package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-tango/internal/config"
	"github.com/example/go-tango/internal/model"
)

func TestDownloadJobs(t *testing.T) {
	cfg := config.DefaultConfig()

	jobs := downloadJobs(cfg, model.RepoTangoAudioCaps, "models/ft", false)
	want := []downloadJob{
		{repo: model.RepoTangoAudioCaps, outDir: "models/ft"},
		{repo: model.RepoScheduler, outDir: "models/ft"},
		{repo: model.RepoTextEncoder, outDir: filepath.Dir(cfg.Paths.TokenizerModel)},
	}
	if len(jobs) != len(want) {
		t.Fatalf("want %d jobs, got %d: %+v", len(want), len(jobs), jobs)
	}
	for i := range want {
		if jobs[i] != want[i] {
			t.Errorf("job %d = %+v, want %+v", i, jobs[i], want[i])
		}
	}

	if got := downloadJobs(cfg, model.RepoTango, "m", true); len(got) != 2 {
		t.Errorf("skip-tokenizer should leave 2 jobs, got %d", len(got))
	}
}

func TestManifestDir(t *testing.T) {
	if got := manifestDir("models/tango/onnx/manifest.json"); got != filepath.Join("models", "tango", "onnx") {
		t.Errorf("manifestDir = %q", got)
	}
	if got := manifestDir(""); got != filepath.Join("models", "tango", "onnx") {
		t.Errorf("manifestDir(\"\") = %q", got)
	}
}

func TestModelBundleCmd_RequiresURL(t *testing.T) {
	_, _, err := runRoot(t, "", "model", "bundle")
	if err == nil || !strings.Contains(err.Error(), "--url is required") {
		t.Fatalf("expected --url error, got %v", err)
	}
}

func TestModelVerifyCmd_MissingManifest(t *testing.T) {
	_, _, err := runRoot(t, "", "model", "verify", "--manifest", "missing/manifest.json")
	if err == nil || !strings.Contains(err.Error(), "model verify failed") {
		t.Fatalf("expected verify failure, got %v", err)
	}
}

func TestModelDownloadCmd_UnknownRepo(t *testing.T) {
	_, _, err := runRoot(t, "", "model", "download", "--repo", "someone/else", "--progress=false")
	if err == nil || !strings.Contains(err.Error(), "no pinned manifest") {
		t.Fatalf("expected pinned manifest error, got %v", err)
	}
}
