package model

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/example/go-tango/internal/onnx"
)

// BundleOptions fetches a prebuilt ONNX bundle archive (.zip or .tar.gz)
// instead of exporting one locally.
type BundleOptions struct {
	// URL is http(s)://, file:// or a plain local path.
	URL        string
	SHA256     string
	OutDir     string
	HTTPClient *http.Client
	Progress   bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// DownloadBundle fetches, checksums and extracts an ONNX bundle, then checks
// that the extracted manifest lists every Tango graph.
func DownloadBundle(ctx context.Context, opts BundleOptions) error {
	if opts.OutDir == "" {
		return errors.New("out dir is required")
	}
	if strings.TrimSpace(opts.URL) == "" {
		return errors.New("bundle URL is required")
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 0}
	}

	checksum := strings.ToLower(strings.TrimSpace(opts.SHA256))
	if checksum != "" && !isSHA256Hex(checksum) {
		return fmt.Errorf("invalid sha256 checksum %q", checksum)
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}

	archive, actual, err := fetchArchive(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(archive) }()

	if checksum != "" && checksum != actual {
		return fmt.Errorf("bundle checksum mismatch: expected %s got %s", checksum, actual)
	}
	_, _ = fmt.Fprintf(opts.Stdout, "downloaded ONNX bundle (%s) sha256=%s\n", opts.URL, actual)

	if err := extractArchive(archive, opts.URL, opts.OutDir); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(opts.Stdout, "extracted bundle into %s\n", opts.OutDir)

	if err := checkBundleDir(opts.OutDir); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(opts.Stdout, "verified ONNX bundle manifest in %s\n", opts.OutDir)

	return nil
}

func openSource(ctx context.Context, opts BundleOptions) (io.ReadCloser, int64, error) {
	src := opts.URL
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		local := strings.TrimPrefix(src, "file://")
		fh, err := os.Open(local)
		if err != nil {
			return nil, 0, fmt.Errorf("open local bundle %q: %w", local, err)
		}
		size := int64(-1)
		if fi, err := fh.Stat(); err == nil {
			size = fi.Size()
		}
		return fh, size, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build bundle request: %w", err)
	}
	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("bundle download failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("bundle download failed: %s", resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}

func fetchArchive(ctx context.Context, opts BundleOptions) (string, string, error) {
	reader, size, err := openSource(ctx, opts)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = reader.Close() }()

	tmpFile, err := os.CreateTemp("", "tango-onnx-bundle-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp bundle file: %w", err)
	}
	tmpPath := tmpFile.Name()

	h := sha256.New()
	sinks := []io.Writer{tmpFile, h}
	if opts.Progress {
		sinks = append(sinks, progressbar.NewOptions64(size,
			progressbar.OptionSetWriter(opts.Stderr),
			progressbar.OptionSetDescription("onnx bundle"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(200*time.Millisecond),
		))
	}

	if _, err := io.Copy(io.MultiWriter(sinks...), reader); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return "", "", fmt.Errorf("write temp bundle file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", "", fmt.Errorf("close temp bundle file: %w", err)
	}

	return tmpPath, hex.EncodeToString(h.Sum(nil)), nil
}

// extractArchive picks the format from the source name, falling back to
// trying zip and then tar.gz.
func extractArchive(archivePath, sourceName, outDir string) error {
	name := strings.ToLower(sourceName)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip(archivePath, outDir)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return extractTarGz(archivePath, outDir)
	}

	if err := extractZip(archivePath, outDir); err == nil {
		return nil
	}
	if err := extractTarGz(archivePath, outDir); err == nil {
		return nil
	}
	return fmt.Errorf("unsupported bundle format for %s (expected .zip or .tar.gz/.tgz)", sourceName)
}

func extractZip(archivePath, outDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip bundle: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		target, err := safeExtractPath(outDir, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
			continue
		}

		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		err = writeEntry(target, src)
		_ = src.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

func extractTarGz(archivePath, outDir string) error {
	fh, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open tar.gz bundle: %w", err)
	}
	defer func() { _ = fh.Close() }()

	gz, err := gzip.NewReader(fh)
	if err != nil {
		return fmt.Errorf("open gzip reader: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target, err := safeExtractPath(outDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr); err != nil {
				return err
			}
		}
	}
}

func writeEntry(target string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", target, err)
	}
	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create extracted file %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("extract %s: %w", target, err)
	}
	return dst.Close()
}

func safeExtractPath(baseDir, entryName string) (string, error) {
	cleaned := filepath.Clean(strings.TrimPrefix(entryName, "/"))
	target := filepath.Join(baseDir, cleaned)

	base := filepath.Clean(baseDir) + string(os.PathSeparator)
	if !strings.HasPrefix(filepath.Clean(target)+string(os.PathSeparator), base) {
		return "", fmt.Errorf("unsafe archive path traversal attempt: %q", entryName)
	}

	return target, nil
}

func checkBundleDir(dir string) error {
	b, err := onnx.OpenBundle(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return err
	}
	return b.Require(onnx.RequiredGraphs...)
}
