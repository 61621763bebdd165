package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/schollz/progressbar/v3"
)

const defaultBaseURL = "https://huggingface.co"

var (
	// ErrDownloadInProgress is returned when another process holds the
	// download lock for the same output directory.
	ErrDownloadInProgress = errors.New("another download is writing to this directory")

	errNoChecksum = errors.New("no sha256 in metadata")
)

type DownloadOptions struct {
	Repo    string
	OutDir  string
	HFToken string
	// BaseURL replaces https://huggingface.co; used by tests and mirrors.
	BaseURL    string
	HTTPClient *http.Client
	// Progress enables a progress bar on Stderr.
	Progress bool
	Stdout   io.Writer
	Stderr   io.Writer
}

type ErrAccessDenied struct {
	Repo string
	Msg  string
}

func (e *ErrAccessDenied) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("access denied for %s", e.Repo)
}

type lockManifest struct {
	Repo      string                `json:"repo"`
	Generated string                `json:"generated"`
	Files     map[string]lockRecord `json:"files"`
}

type lockRecord struct {
	Repo     string `json:"repo,omitempty"`
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

// matches reports whether the record was written for the same repo and
// revision as f. Records from another repo sharing the directory are ignored.
func (r lockRecord) matches(repo string, f ModelFile) bool {
	return r.Repo == repo && r.Revision == f.Revision && isSHA256Hex(r.SHA256)
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// Download fetches every file of the repo's pinned manifest into OutDir.
// Files whose checksum already matches are skipped. Checksums come from the
// manifest, then the local lock manifest, then HF metadata; files without
// any published sha256 are recorded with the hash of what was downloaded.
func Download(ctx context.Context, opts DownloadOptions) error {
	if opts.Repo == "" {
		return fmt.Errorf("repo is required")
	}
	if opts.OutDir == "" {
		return fmt.Errorf("out dir is required")
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 0}
	}

	manifest, err := PinnedManifest(opts.Repo)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}

	fl := flock.New(filepath.Join(opts.OutDir, ".download.lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire download lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%s: %w", opts.OutDir, ErrDownloadInProgress)
	}
	defer func() { _ = fl.Unlock() }()

	lockPath := filepath.Join(opts.OutDir, lockManifestFilename)
	lock := readLockManifest(lockPath)
	if lock.Files == nil {
		lock.Files = make(map[string]lockRecord)
	}
	lock.Repo = opts.Repo
	lock.Generated = time.Now().UTC().Format(time.RFC3339)

	d := downloader{opts: opts, repo: manifest.Repo}

	for _, f := range manifest.Files {
		if err := ctx.Err(); err != nil {
			return err
		}

		localPath := filepath.Join(opts.OutDir, filepath.FromSlash(f.Filename))
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("create local subdir: %w", err)
		}

		expected := strings.ToLower(f.SHA256)
		if expected == "" {
			if lr, ok := lock.Files[f.Filename]; ok && lr.matches(manifest.Repo, f) {
				expected = strings.ToLower(lr.SHA256)
			} else {
				expected, err = d.resolveChecksum(ctx, f)
				if err != nil && !errors.Is(err, errNoChecksum) {
					return err
				}
			}
		}

		if expected != "" {
			ok, err := existingMatches(localPath, expected)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(opts.Stdout, "skip %s (checksum match)\n", f.Filename)
				lock.Files[f.Filename] = lockRecord{Repo: manifest.Repo, Revision: f.Revision, SHA256: expected}
				continue
			}
		}

		fmt.Fprintf(opts.Stdout, "download %s@%s -> %s\n", f.Filename, f.Revision, localPath)
		actual, err := d.fetch(ctx, f, localPath)
		if err != nil {
			return err
		}
		if expected != "" && actual != expected {
			return fmt.Errorf("checksum mismatch for %s: expected %s got %s", f.Filename, expected, actual)
		}
		if expected == "" {
			fmt.Fprintf(opts.Stdout, "recorded %s (sha256=%s, unpublished)\n", f.Filename, actual)
		} else {
			fmt.Fprintf(opts.Stdout, "verified %s (sha256=%s)\n", f.Filename, actual)
		}
		lock.Files[f.Filename] = lockRecord{Repo: manifest.Repo, Revision: f.Revision, SHA256: actual}
	}

	if err := writeLockManifest(lockPath, lock); err != nil {
		return err
	}
	fmt.Fprintf(opts.Stdout, "wrote lock manifest: %s\n", lockPath)
	return nil
}

type downloader struct {
	opts DownloadOptions
	repo string
}

func (d downloader) fetch(ctx context.Context, file ModelFile, outPath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url(file), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	setAuth(req, d.opts.HFToken)

	resp, err := d.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := d.checkStatus(resp, file, 299); err != nil {
		return "", err
	}

	tmp := outPath + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	sinks := []io.Writer{fh, h}
	var bar *progressbar.ProgressBar
	if d.opts.Progress {
		bar = progressbar.NewOptions64(
			resp.ContentLength,
			progressbar.OptionSetWriter(d.opts.Stderr),
			progressbar.OptionSetDescription(file.Filename),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		sinks = append(sinks, bar)
	}

	if _, err := io.Copy(io.MultiWriter(sinks...), resp.Body); err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("download %s: %w", file.Filename, err)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move temp file into place: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// resolveChecksum asks HF for the LFS sha256 of a file. Small files stored
// directly in git only carry a sha1 ETag; those return errNoChecksum.
func (d downloader) resolveChecksum(ctx context.Context, f ModelFile) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.url(f), nil)
	if err != nil {
		return "", fmt.Errorf("build metadata request: %w", err)
	}
	setAuth(req, d.opts.HFToken)

	resp, err := d.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata request failed for %s: %w", f.Filename, err)
	}
	defer resp.Body.Close()

	if err := d.checkStatus(resp, f, 399); err != nil {
		return "", err
	}

	for _, key := range []string{"X-Linked-Etag", "X-Repo-Commit", "Etag"} {
		if v := normalizeETag(resp.Header.Get(key)); isSHA256Hex(v) {
			return strings.ToLower(v), nil
		}
	}

	return "", fmt.Errorf("%s: %w", f.Filename, errNoChecksum)
}

func (d downloader) checkStatus(resp *http.Response, f ModelFile, maxOK int) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &ErrAccessDenied{
			Repo: d.repo,
			Msg:  fmt.Sprintf("access denied for %s; provide HF_TOKEN or --hf-token", d.repo),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > maxOK {
		return fmt.Errorf("request for %s failed: %s", f.Filename, resp.Status)
	}
	return nil
}

func (d downloader) url(file ModelFile) string {
	return resolveURL(d.opts.BaseURL, d.repo, file)
}

func resolveURL(base, repo string, file ModelFile) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimRight(base, "/"), repo, file.Revision, file.Filename)
}

func setAuth(req *http.Request, token string) {
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, "\"")
}

func isSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}

func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat existing file: %w", err)
	}
	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", path)
	}
	actual, err := fileSHA256(path)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readLockManifest(path string) lockManifest {
	b, err := os.ReadFile(path)
	if err != nil {
		return lockManifest{}
	}
	var out lockManifest
	if err := json.Unmarshal(b, &out); err != nil {
		return lockManifest{}
	}
	if out.Files == nil {
		out.Files = map[string]lockRecord{}
	}
	return out
}

func writeLockManifest(path string, lock lockManifest) error {
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock manifest: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write lock manifest: %w", err)
	}
	return nil
}
