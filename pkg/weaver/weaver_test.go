package weaver

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/silasm/sil/pkg/asm"
	"github.com/silasm/sil/pkg/patchfile"
	"github.com/silasm/sil/pkg/sil"
)

func newModule(t *testing.T) *sil.ModuleDef {
	t.Helper()
	return sil.NewRegistry().NewModule("Test")
}

func ops(m *sil.MethodDef) []string {
	var out []string
	for _, ins := range m.Body.Instructions {
		out = append(out, ins.OpCode.Name)
	}
	return out
}

func TestProcessModuleInlineBlocks(t *testing.T) {
	mod := newModule(t)
	td := mod.AddType("Test.T")
	marked := td.AddMethod("Marked", sil.Void, true)
	marked.Attrs = append(marked.Attrs, sil.Attribute{Name: AttrBlock, Arg: "nop; ret"})
	plain := td.AddMethod("Plain", sil.Void, true)

	w := &Weaver{}
	if err := w.ProcessModule(mod); err != nil {
		t.Fatalf("ProcessModule: %v", err)
	}
	if got := ops(marked); len(got) != 2 || got[0] != "nop" || got[1] != "ret" {
		t.Errorf("marked body = %v", got)
	}
	if len(plain.Body.Instructions) != 0 {
		t.Errorf("unmarked method was touched: %v", ops(plain))
	}
}

func TestProcessModuleEmptyBlock(t *testing.T) {
	mod := newModule(t)
	td := mod.AddType("Test.T")
	m := td.AddMethod("Empty", sil.Void, true)
	m.Attrs = append(m.Attrs, sil.Attribute{Name: AttrBlock, Arg: ""})

	if err := (&Weaver{}).ProcessModule(mod); err != nil {
		t.Fatalf("ProcessModule: %v", err)
	}
	if got := ops(m); len(got) != 2 || got[0] != "nop" || got[1] != "ret" {
		t.Errorf("empty block body = %v, want nop+ret", got)
	}
}

func TestProcessModuleCollectsErrors(t *testing.T) {
	mod := newModule(t)
	td := mod.AddType("Test.T")
	bad := td.AddMethod("Bad", sil.Void, true)
	bad.Attrs = append(bad.Attrs, sil.Attribute{Name: AttrBlock, Arg: "frobnicate"})
	good := td.AddMethod("Good", sil.Void, true)
	good.Attrs = append(good.Attrs, sil.Attribute{Name: AttrBlock, Arg: "ret"})
	worse := td.AddMethod("Worse", sil.Void, true)
	worse.Attrs = append(worse.Attrs, sil.Attribute{Name: AttrBlock, Arg: "br GONE"})

	err := (&Weaver{}).ProcessModule(mod)
	if err == nil {
		t.Fatal("want joined errors")
	}
	// Both failures are reported and the good method still compiled.
	var se *asm.SyntaxError
	if !errors.As(err, &se) {
		t.Errorf("missing syntax failure in %v", err)
	}
	var ul *asm.UnresolvedLabelError
	if !errors.As(err, &ul) {
		t.Errorf("missing label failure in %v", err)
	}
	if got := ops(good); len(got) != 1 || got[0] != "ret" {
		t.Errorf("good body = %v, want ret", got)
	}
}

func TestPatchWinsOverInline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ext"+patchfile.Ext)
	if err := os.WriteFile(path, []byte("== Body\nldc.i4.1\npop\nret\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	mod := newModule(t)
	td := mod.AddType("Test.T")
	m := td.AddMethod("Patched", sil.Void, true)
	m.Attrs = append(m.Attrs,
		sil.Attribute{Name: AttrBlock, Arg: "nop; ret"},
		sil.Attribute{Name: AttrPatch, Arg: "ext:Body"},
	)

	w := &Weaver{Cache: patchfile.New(dir)}
	if err := w.ProcessModule(mod); err != nil {
		t.Fatalf("ProcessModule: %v", err)
	}
	if got := ops(m); len(got) != 3 || got[0] != "ldc.i4.1" {
		t.Errorf("body = %v, want the external patch", got)
	}
}

func TestPatchWithoutCache(t *testing.T) {
	mod := newModule(t)
	td := mod.AddType("Test.T")
	m := td.AddMethod("Patched", sil.Void, true)
	m.Attrs = append(m.Attrs, sil.Attribute{Name: AttrPatch, Arg: "ext:Body"})

	err := (&Weaver{}).ProcessModule(mod)
	if err == nil || !strings.Contains(err.Error(), "no patch directory") {
		t.Fatalf("want missing-directory error, got %v", err)
	}
}

func TestMissingPatchNamesMethod(t *testing.T) {
	mod := newModule(t)
	td := mod.AddType("Test.T")
	m := td.AddMethod("Patched", sil.Void, true)
	m.Attrs = append(m.Attrs, sil.Attribute{Name: AttrPatch, Arg: "ext:Gone"})

	w := &Weaver{Cache: patchfile.New(t.TempDir())}
	err := w.ProcessModule(mod)
	var nf *patchfile.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want NotFoundError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Test.T::Patched") {
		t.Errorf("error should name the method: %v", err)
	}
}
