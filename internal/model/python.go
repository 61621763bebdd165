package model

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DetectExportPython picks the interpreter for the export script:
// TANGO_PYTHON, then a project .venv, then the interpreter behind the
// huggingface-cli launcher, then python3.
func DetectExportPython() string {
	if p := os.Getenv("TANGO_PYTHON"); p != "" {
		return p
	}

	for _, venv := range []string{".venv/bin/python", "venv/bin/python"} {
		if _, err := os.Stat(venv); err == nil {
			if abs, err := filepath.Abs(venv); err == nil {
				return abs
			}
		}
	}

	if interp := shebangInterpreter("huggingface-cli"); interp != "" {
		return interp
	}

	return "python3"
}

// shebangInterpreter returns the interpreter named on the #! line of a
// launcher script found on PATH, or "" if there is none.
func shebangInterpreter(launcher string) string {
	bin, err := exec.LookPath(launcher)
	if err != nil {
		return ""
	}
	fh, err := os.Open(bin)
	if err != nil {
		return ""
	}
	defer fh.Close()

	s := bufio.NewScanner(fh)
	if !s.Scan() {
		return ""
	}
	line := strings.TrimSpace(s.Text())
	if !strings.HasPrefix(line, "#!") {
		return ""
	}
	fields := strings.Fields(strings.TrimPrefix(line, "#!"))
	if len(fields) == 0 {
		return ""
	}
	interpreter := fields[0]
	// "#!/usr/bin/env python3" style launchers.
	if filepath.Base(interpreter) == "env" && len(fields) > 1 {
		if p, err := exec.LookPath(fields[1]); err == nil {
			return p
		}
		return ""
	}
	if _, err := os.Stat(interpreter); err != nil {
		return ""
	}
	return interpreter
}

func resolveScriptPath(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("script path is required")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	paths := []string{
		filepath.Join(cwd, rel),
		filepath.Join(cwd, "..", "..", rel),
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), rel))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Clean(p), nil
		}
	}

	return "", fmt.Errorf("script %q not found from %s", rel, cwd)
}
