package onnx

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// tangoManifest mirrors the manifest written by scripts/export_onnx.py.
const tangoManifest = `{
  "graphs": [
    {
      "name": "text_encoder",
      "filename": "text_encoder.onnx",
      "inputs": [
        {"name":"input_ids","dtype":"int64","shape":["batch","tokens"]},
        {"name":"attention_mask","dtype":"int64","shape":["batch","tokens"]}
      ],
      "outputs": [{"name":"last_hidden_state","dtype":"float","shape":["batch","tokens",1024]}]
    },
    {
      "name": "unet",
      "filename": "unet.onnx",
      "inputs": [
        {"name":"sample","dtype":"float","shape":["batch",8,256,16]},
        {"name":"timestep","dtype":"int64","shape":[1]},
        {"name":"encoder_hidden_states","dtype":"float","shape":["batch","tokens",1024]},
        {"name":"encoder_attention_mask","dtype":"int64","shape":["batch","tokens"]}
      ],
      "outputs": [{"name":"out_sample","dtype":"float","shape":["batch",8,256,16]}]
    },
    {
      "name": "vae_decoder",
      "filename": "vae_decoder.onnx",
      "inputs": [{"name":"latents","dtype":"float","shape":["batch",8,256,16]}],
      "outputs": [{"name":"mel","dtype":"float","shape":["batch",1,1024,64]}]
    },
    {
      "name": "vocoder",
      "filename": "vocoder.onnx",
      "inputs": [{"name":"mel","dtype":"float","shape":["batch",64,1024]}],
      "outputs": [{"name":"waveform","dtype":"float","shape":["batch","samples"]}]
    }
  ]
}`

func writeManifest(t *testing.T, dir, body string, graphs ...string) string {
	t.Helper()
	for _, name := range graphs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("fake"), 0o644); err != nil {
			t.Fatalf("write fake onnx file: %v", err)
		}
	}

	manifestPath := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(manifestPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return manifestPath
}

func TestOpenBundleLoadsManifest(t *testing.T) {
	tmp := t.TempDir()
	manifestPath := writeManifest(t, tmp, tangoManifest,
		"text_encoder.onnx", "unet.onnx", "vae_decoder.onnx", "vocoder.onnx")

	b, err := OpenBundle(manifestPath)
	if err != nil {
		t.Fatalf("OpenBundle: %v", err)
	}
	if err := b.Require(RequiredGraphs...); err != nil {
		t.Fatalf("Require: %v", err)
	}

	all := b.Graphs()
	if len(all) != 4 {
		t.Fatalf("expected 4 sessions, got %d", len(all))
	}
	if all[0].Name != GraphTextEncoder || all[3].Name != GraphVocoder {
		t.Fatalf("sessions not in manifest order: %s..%s", all[0].Name, all[3].Name)
	}

	s, ok := b.Graph(GraphUNet)
	if !ok {
		t.Fatal("expected unet session")
	}
	if s.Path != filepath.Join(tmp, "unet.onnx") {
		t.Fatalf("unexpected session path: %s", s.Path)
	}

	in, ok := s.Input("sample")
	if !ok {
		t.Fatalf("unet has no sample input: %+v", s.Inputs)
	}
	if got, want := in.FixedDims(), []int64{-1, 8, 256, 16}; !reflect.DeepEqual(got, want) {
		t.Fatalf("FixedDims = %v, want %v", got, want)
	}
	if _, ok := s.Input("missing"); ok {
		t.Fatal("Input(missing) reported ok")
	}

	// Graph hands out copies.
	s.Inputs[0].Name = "changed"
	if again, _ := b.Graph(GraphUNet); again.Inputs[0].Name != "sample" {
		t.Fatalf("Graph exposed internal inputs: %+v", again.Inputs)
	}
}

func TestBundleRequireNamesMissingGraph(t *testing.T) {
	manifest := `{"graphs":[{"name":"unet","filename":"unet.onnx"},{"name":"vocoder","filename":"vocoder.onnx"}]}`
	b, err := OpenBundle(writeManifest(t, t.TempDir(), manifest, "unet.onnx", "vocoder.onnx"))
	if err != nil {
		t.Fatalf("OpenBundle: %v", err)
	}

	err = b.Require(RequiredGraphs...)
	if !errors.Is(err, ErrMissingGraph) || !strings.HasSuffix(err.Error(), GraphTextEncoder) {
		t.Fatalf("Require = %v, want missing %s", err, GraphTextEncoder)
	}
	if err := b.Require(GraphUNet, GraphVocoder); err != nil {
		t.Fatalf("Require(present graphs) = %v", err)
	}
}

func TestOpenBundleErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		files    []string
	}{
		{
			name:     "missing graph file",
			manifest: `{"graphs":[{"name":"unet","filename":"unet.onnx"}]}`,
		},
		{
			name:     "no graphs",
			manifest: `{"graphs":[]}`,
		},
		{
			name:     "empty name",
			manifest: `{"graphs":[{"name":"","filename":"a.onnx"}]}`,
			files:    []string{"a.onnx"},
		},
		{
			name:     "empty filename",
			manifest: `{"graphs":[{"name":"a","filename":""}]}`,
		},
		{
			name:     "duplicate name",
			manifest: `{"graphs":[{"name":"a","filename":"a.onnx"},{"name":"a","filename":"a.onnx"}]}`,
			files:    []string{"a.onnx"},
		},
		{
			name:     "invalid json",
			manifest: `{"graphs":`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			manifestPath := writeManifest(t, t.TempDir(), tc.manifest, tc.files...)
			if _, err := OpenBundle(manifestPath); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := OpenBundle(""); err == nil {
		t.Fatal("expected error for empty manifest path")
	}
}
