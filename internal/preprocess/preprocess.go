// Package preprocess implements flat textual #include expansion: a
// line-oriented scan that recognizes a leading `#include <path>` directive
// (whitespace before the `#` is allowed), resolves it against the including
// file's directory and then an "include/" subdirectory of it, and splices the included
// file's own preprocessed lines in place of the directive. `//`-prefixed
// lines are dropped outright.
package preprocess

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Expand reads path and every file it transitively #includes, returning
// the concatenated source text with include directives replaced by their
// target's contents.
func Expand(path string) (string, error) {
	var out strings.Builder
	seen := map[string]bool{}
	if err := expandInto(&out, path, seen); err != nil {
		return "", err
	}
	return out.String(), nil
}

func expandInto(out *strings.Builder, path string, seen map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if seen[abs] {
		return fmt.Errorf("preprocess: circular #include of %s", path)
	}
	seen[abs] = true
	defer delete(seen, abs)

	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}

	for _, line := range strings.Split(string(src), "\n") {
		if isCommentLine(line) {
			continue
		}
		if name, ok := includeTarget(line); ok {
			resolved, err := resolveInclude(path, name)
			if err != nil {
				return err
			}
			if err := expandInto(out, resolved, seen); err != nil {
				return err
			}
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return nil
}

func isCommentLine(line string) bool {
	t := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(t, "//")
}

// includeTarget matches a leading #include directive and extracts the
// bracketed or quoted file name, e.g. `#include <io.pcc>` or
// `#include "io.pcc"`.
func includeTarget(line string) (string, bool) {
	t := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(t, "#") {
		return "", false
	}
	t = strings.TrimLeft(t[1:], " \t")
	if !strings.HasPrefix(t, "include") {
		return "", false
	}
	t = strings.TrimLeft(t[len("include"):], " \t")
	if len(t) == 0 {
		return "", false
	}
	close := byte('>')
	if t[0] == '"' {
		close = '"'
	} else if t[0] != '<' {
		return "", false
	}
	end := strings.IndexByte(t[1:], close)
	if end < 0 {
		return "", false
	}
	return t[1 : 1+end], true
}

// resolveInclude finds name relative to the including file's directory
// first, then under an "include/" directory alongside it.
func resolveInclude(fromFile, name string) (string, error) {
	dir := filepath.Dir(fromFile)
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	fallback := filepath.Join(dir, "include", name)
	if _, err := os.Stat(fallback); err == nil {
		return fallback, nil
	}
	return "", fmt.Errorf("preprocess: cannot find header file: %s", name)
}
