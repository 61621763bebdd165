package server

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/example/go-tango/internal/audio"
)

// outputStore writes generated WAV files under unique names and keeps only
// the newest keep files.
type outputStore struct {
	dir  string
	keep int
	mu   sync.Mutex
}

func newOutputStore(dir string, keep int) *outputStore {
	return &outputStore{dir: dir, keep: keep}
}

// save writes samples to <dir>/<uuid>.wav and returns the file name and path.
func (s *outputStore) save(samples []float32, sampleRate, sampleWidth int) (string, string, error) {
	name := uuid.NewString() + ".wav"
	path := filepath.Join(s.dir, name)
	if err := audio.WriteWAVFile(path, samples, sampleRate, sampleWidth); err != nil {
		return "", "", fmt.Errorf("write output: %w", err)
	}

	s.prune()
	return name, path, nil
}

// lookup resolves a requested file name. Only names produced by save are
// accepted.
func (s *outputStore) lookup(name string) (string, bool) {
	if !validOutputName(name) {
		return "", false
	}
	path := filepath.Join(s.dir, name)
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

func validOutputName(name string) bool {
	id, ok := strings.CutSuffix(name, ".wav")
	if !ok {
		return false
	}
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

func (s *outputStore) prune() {
	if s.keep <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Warn("list outputs", "dir", s.dir, "error", err)
		return
	}

	type output struct {
		name string
		mod  int64
	}
	var files []output
	for _, e := range entries {
		if !e.Type().IsRegular() || !validOutputName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, output{name: e.Name(), mod: info.ModTime().UnixNano()})
	}
	if len(files) <= s.keep {
		return
	}

	// Newest first; ties broken by name for a stable order.
	slices.SortFunc(files, func(a, b output) int {
		if c := cmp.Compare(b.mod, a.mod); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})
	for _, f := range files[s.keep:] {
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove old output", "file", f.name, "error", err)
		}
	}
}
