package model

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-tango/internal/onnx"
)

const bundleManifest = `{"graphs":[
 {"name":"text_encoder","filename":"text_encoder.onnx"},
 {"name":"unet","filename":"unet.onnx"},
 {"name":"vae_decoder","filename":"vae_decoder.onnx"},
 {"name":"vocoder","filename":"vocoder.onnx"}]}`

func bundleEntries() map[string]string {
	entries := map[string]string{"manifest.json": bundleManifest}
	for _, g := range onnx.RequiredGraphs {
		entries[g+".onnx"] = "graph " + g
	}
	return entries
}

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		_, _ = w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func tarGzBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		_, _ = tw.Write([]byte(body))
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDownloadBundle_HTTPZip(t *testing.T) {
	archive := zipBytes(t, bundleEntries())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	out := t.TempDir()
	err := DownloadBundle(context.Background(), BundleOptions{
		URL:    srv.URL + "/tango-onnx.zip",
		SHA256: sha256hex(archive),
		OutDir: out,
	})
	if err != nil {
		t.Fatalf("DownloadBundle: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "unet.onnx")); err != nil {
		t.Fatalf("unet.onnx not extracted: %v", err)
	}
}

func TestDownloadBundle_LocalTarGz(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "bundle.tgz")
	if err := os.WriteFile(src, tarGzBytes(t, bundleEntries()), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(tmp, "out")
	if err := DownloadBundle(context.Background(), BundleOptions{URL: "file://" + src, OutDir: out}); err != nil {
		t.Fatalf("DownloadBundle: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "manifest.json")); err != nil {
		t.Fatalf("manifest not extracted: %v", err)
	}
}

func TestDownloadBundle_ChecksumMismatch(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "bundle.zip")
	if err := os.WriteFile(src, zipBytes(t, bundleEntries()), 0o644); err != nil {
		t.Fatal(err)
	}

	err := DownloadBundle(context.Background(), BundleOptions{URL: src, SHA256: strings.Repeat("0", 64), OutDir: filepath.Join(tmp, "out")})
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestDownloadBundle_MissingGraph(t *testing.T) {
	entries := bundleEntries()
	entries["manifest.json"] = `{"graphs":[{"name":"unet","filename":"unet.onnx"}]}`

	tmp := t.TempDir()
	src := filepath.Join(tmp, "bundle.zip")
	if err := os.WriteFile(src, zipBytes(t, entries), 0o644); err != nil {
		t.Fatal(err)
	}

	err := DownloadBundle(context.Background(), BundleOptions{URL: src, OutDir: filepath.Join(tmp, "out")})
	if !errors.Is(err, onnx.ErrMissingGraph) {
		t.Fatalf("expected ErrMissingGraph, got %v", err)
	}
}

func TestDownloadBundle_OptionErrors(t *testing.T) {
	ctx := context.Background()
	if err := DownloadBundle(ctx, BundleOptions{URL: "x.zip"}); err == nil {
		t.Fatal("expected error for empty out dir")
	}
	if err := DownloadBundle(ctx, BundleOptions{OutDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for empty URL")
	}
	if err := DownloadBundle(ctx, BundleOptions{URL: "x.zip", SHA256: "nothex", OutDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for invalid checksum")
	}
}

func TestSafeExtractPath(t *testing.T) {
	base := t.TempDir()
	if _, err := safeExtractPath(base, "../../etc/passwd"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
	got, err := safeExtractPath(base, "/nested/unet.onnx")
	if err != nil {
		t.Fatalf("safeExtractPath: %v", err)
	}
	if got != filepath.Join(base, "nested", "unet.onnx") {
		t.Fatalf("safeExtractPath = %q", got)
	}
}
