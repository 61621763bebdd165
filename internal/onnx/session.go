package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// NodeInfo describes one graph input or output. Shape entries are numbers
// for fixed dims and strings for symbolic ones such as "batch".
type NodeInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

// Session is one graph of an exported bundle. Path is absolute or relative
// to the working directory, never to the manifest.
type Session struct {
	Name    string     `json:"name"`
	Path    string     `json:"filename"`
	Inputs  []NodeInfo `json:"inputs"`
	Outputs []NodeInfo `json:"outputs"`
}

// Bundle is a parsed manifest.json of exported graphs, in manifest order.
// It is read-only after OpenBundle returns.
type Bundle struct {
	Manifest string
	graphs   []Session
}

// OpenBundle parses manifestPath and checks that every listed graph file
// exists next to it.
func OpenBundle(manifestPath string) (*Bundle, error) {
	if manifestPath == "" {
		return nil, errors.New("manifest path is required")
	}

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read ONNX manifest: %w", err)
	}
	var doc struct {
		Graphs []Session `json:"graphs"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode ONNX manifest %s: %w", manifestPath, err)
	}
	if len(doc.Graphs) == 0 {
		return nil, fmt.Errorf("ONNX manifest %s lists no graphs", manifestPath)
	}

	dir := filepath.Dir(manifestPath)
	b := &Bundle{Manifest: manifestPath, graphs: make([]Session, 0, len(doc.Graphs))}
	for i, g := range doc.Graphs {
		switch {
		case g.Name == "":
			return nil, fmt.Errorf("manifest graph %d has no name", i)
		case g.Path == "":
			return nil, fmt.Errorf("manifest graph %q has no filename", g.Name)
		}
		if _, dup := b.Graph(g.Name); dup {
			return nil, fmt.Errorf("manifest lists graph %q twice", g.Name)
		}

		if !filepath.IsAbs(g.Path) {
			g.Path = filepath.Join(dir, g.Path)
		}
		g.Path = filepath.Clean(g.Path)
		if _, err := os.Stat(g.Path); err != nil {
			return nil, fmt.Errorf("graph %q: %w", g.Name, err)
		}

		b.graphs = append(b.graphs, g)
		slog.Debug("found ONNX graph",
			"name", g.Name,
			"path", g.Path,
			"inputs", nodeNames(g.Inputs),
			"outputs", nodeNames(g.Outputs),
		)
	}
	return b, nil
}

// Require returns ErrMissingGraph naming the first of names the bundle does
// not list.
func (b *Bundle) Require(names ...string) error {
	for _, name := range names {
		if _, ok := b.Graph(name); !ok {
			return fmt.Errorf("manifest %s: %w: %s", b.Manifest, ErrMissingGraph, name)
		}
	}
	return nil
}

// Graph returns a copy of the named graph entry.
func (b *Bundle) Graph(name string) (Session, bool) {
	for _, g := range b.graphs {
		if g.Name == name {
			return g.clone(), true
		}
	}
	return Session{}, false
}

// Graphs returns copies of every graph entry in manifest order.
func (b *Bundle) Graphs() []Session {
	out := make([]Session, len(b.graphs))
	for i, g := range b.graphs {
		out[i] = g.clone()
	}
	return out
}

func (s Session) clone() Session {
	s.Inputs = append([]NodeInfo(nil), s.Inputs...)
	s.Outputs = append([]NodeInfo(nil), s.Outputs...)
	return s
}

// Input returns the manifest metadata of a named input.
func (s Session) Input(name string) (NodeInfo, bool) {
	for _, n := range s.Inputs {
		if n.Name == name {
			return n, true
		}
	}
	return NodeInfo{}, false
}

// FixedDims returns the numeric dims of the node, with -1 for symbolic ones.
func (n NodeInfo) FixedDims() []int64 {
	dims := make([]int64, len(n.Shape))
	for i, d := range n.Shape {
		switch v := d.(type) {
		case float64:
			dims[i] = int64(v)
		case int:
			dims[i] = int64(v)
		case int64:
			dims[i] = v
		default:
			dims[i] = -1
		}
	}
	return dims
}

func nodeNames(nodes []NodeInfo) string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return strings.Join(names, ",")
}
