// Package patchfile loads and indexes named external assembly patches
// from a search directory. Patches are keyed "file:patch"; a file is a
// sequence of `==`-headed sections whose bodies are raw assembly lines.
package patchfile

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Ext is the patch file extension convention.
const Ext = ".silpatch"

// NotFoundError reports a patch absent after a full directory scan.
type NotFoundError struct {
	File  string
	Patch string
	Dir   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("patch %q not found in any %s%s under %s", e.Patch, e.File, Ext, e.Dir)
}

// DuplicateError reports two sections claiming the same qualified name.
type DuplicateError struct {
	Name string
	Path string
}

func (e *DuplicateError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("patch %q defined more than once", e.Name)
	}
	return fmt.Sprintf("patch %q defined more than once (last in %s)", e.Name, e.Path)
}

// Cache indexes patch sections lazily, scanning the search directory at
// most once per distinct file prefix. One Cache serves one compilation
// run; concurrent use needs external locking.
type Cache struct {
	dir     string
	patches map[string]string
	scanned map[string]bool
}

// New creates a cache over one search directory.
func New(dir string) *Cache {
	return &Cache{
		dir:     dir,
		patches: make(map[string]string),
		scanned: make(map[string]bool),
	}
}

// FindPatch returns the body of the patch named "file:patch", scanning
// the search directory for matching files on first miss.
func (c *Cache) FindPatch(qualified string) (string, error) {
	file, patch, ok := strings.Cut(qualified, ":")
	if !ok || file == "" || patch == "" {
		return "", fmt.Errorf("patch name %q is not of the form file:patch", qualified)
	}
	if body, ok := c.patches[qualified]; ok {
		return body, nil
	}
	if !c.scanned[file] {
		if err := c.scan(file); err != nil {
			return "", err
		}
		if body, ok := c.patches[qualified]; ok {
			return body, nil
		}
	}
	return "", &NotFoundError{File: file, Patch: patch, Dir: c.dir}
}

// scan walks the search directory recursively and indexes every section
// of every file whose base name matches the prefix.
func (c *Cache) scan(file string) error {
	c.scanned[file] = true
	return filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		base := d.Name()
		if !strings.EqualFold(strings.TrimSuffix(base, Ext), file) || !strings.HasSuffix(base, Ext) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		sections, err := parseSections(file, string(data))
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		for name, body := range sections {
			key := file + ":" + name
			if _, exists := c.patches[key]; exists {
				return &DuplicateError{Name: key, Path: path}
			}
			c.patches[key] = body
		}
		return nil
	})
}

// parseSections splits a patch file on `==` headers. Comment and blank
// lines are dropped; leading whitespace on content lines is stripped;
// bodies are newline-joined. The file prefix qualifies duplicate reports
// so they read the same as cross-file collisions.
func parseSections(file, text string) (map[string]string, error) {
	sections := make(map[string]string)
	var name string
	var body []string

	flush := func() error {
		if name == "" {
			return nil
		}
		if _, ok := sections[name]; ok {
			return &DuplicateError{Name: file + ":" + name}
		}
		sections[name] = strings.Join(body, "\n")
		return nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "==") {
			if err := flush(); err != nil {
				return nil, err
			}
			name = strings.TrimSpace(strings.TrimPrefix(line, "=="))
			body = body[:0]
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}
		body = append(body, trimmed)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return sections, nil
}
