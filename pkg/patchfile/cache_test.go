package patchfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindPatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hashing"+Ext, `
// shared hash routines
== Init
ldc.i4 0x811C9DC5
ret

== Step
	xor
	mul
ret
`)
	c := New(dir)

	body, err := c.FindPatch("hashing:Init")
	if err != nil {
		t.Fatalf("FindPatch: %v", err)
	}
	if want := "ldc.i4 0x811C9DC5\nret"; body != want {
		t.Errorf("body = %q, want %q", body, want)
	}

	body, err = c.FindPatch("hashing:Step")
	if err != nil {
		t.Fatalf("FindPatch: %v", err)
	}
	if want := "xor\nmul\nret"; body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestFindPatchScansOnce(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "core"+Ext, "== A\nnop\n== B\nret\n")
	c := New(dir)

	if _, err := c.FindPatch("core:A"); err != nil {
		t.Fatalf("FindPatch: %v", err)
	}

	// Later lookups against the same prefix are served from the index,
	// so changes on disk are not observed.
	if err := os.WriteFile(path, []byte("== B\nnop\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	body, err := c.FindPatch("core:B")
	if err != nil {
		t.Fatalf("FindPatch after rewrite: %v", err)
	}
	if body != "ret" {
		t.Errorf("body = %q, want the originally indexed %q", body, "ret")
	}
}

func TestFindPatchRecursesSubdirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, filepath.Join("vendor", "lib"+Ext), "== Fill\nldnull\nret\n")
	c := New(dir)
	if _, err := c.FindPatch("lib:Fill"); err != nil {
		t.Fatalf("FindPatch: %v", err)
	}
}

func TestFindPatchFileNameCase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Mixed"+Ext, "== P\nret\n")
	c := New(dir)
	if _, err := c.FindPatch("mixed:P"); err != nil {
		t.Fatalf("base-name match should be case-insensitive: %v", err)
	}
}

func TestFindPatchNotFound(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "core"+Ext, "== A\nnop\n")
	c := New(dir)

	_, err := c.FindPatch("core:Missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want NotFoundError, got %v", err)
	}
	if nf.File != "core" || nf.Patch != "Missing" || nf.Dir != dir {
		t.Errorf("NotFoundError = %+v", nf)
	}
}

func TestFindPatchMalformedName(t *testing.T) {
	c := New(t.TempDir())
	for _, name := range []string{"noseparator", ":patch", "file:", ""} {
		if _, err := c.FindPatch(name); err == nil {
			t.Errorf("FindPatch(%q): want error", name)
		}
	}
}

func TestDuplicateAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "core"+Ext, "== A\nnop\n")
	writeFile(t, dir, filepath.Join("sub", "core"+Ext), "== A\nret\n")
	c := New(dir)

	_, err := c.FindPatch("core:A")
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("want DuplicateError, got %v", err)
	}
	if dup.Name != "core:A" {
		t.Errorf("duplicate name = %q, want core:A", dup.Name)
	}
}

func TestDuplicateWithinFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "core"+Ext, "== A\nnop\n== A\nret\n")
	c := New(dir)

	_, err := c.FindPatch("core:A")
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("want DuplicateError, got %v", err)
	}
	if dup.Name != "core:A" {
		t.Errorf("Name = %q, want qualified %q", dup.Name, "core:A")
	}
}

func TestParseSectionsPreamble(t *testing.T) {
	// Content before the first header has no name and is discarded.
	sections, err := parseSections("misc", "stray line\n== Only\nnop\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(sections) != 1 || sections["Only"] != "nop" {
		t.Errorf("sections = %#v", sections)
	}
}
