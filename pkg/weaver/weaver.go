// Package weaver drives the assembler over a loaded module: it finds
// methods marked with an inline assembly block or an external patch
// reference and compiles their bodies.
package weaver

import (
	"errors"
	"fmt"

	"github.com/silasm/sil/pkg/asm"
	"github.com/silasm/sil/pkg/patchfile"
	"github.com/silasm/sil/pkg/sil"
)

// Attribute names read by the weaver. AttrBlock carries the assembly text
// itself; AttrPatch carries a "file:patch" name looked up in the cache.
const (
	AttrBlock = "AsmBlock"
	AttrPatch = "AsmPatch"
)

// Weaver rewrites method bodies in one module. Cache may be nil when no
// method uses an external patch.
type Weaver struct {
	Cache *patchfile.Cache
}

// ProcessModule compiles every marked method. One method's failure does
// not stop the others; all failures are joined into the returned error.
// A failed method's body must be treated as forfeit by the caller.
func (w *Weaver) ProcessModule(m *sil.ModuleDef) error {
	var errs []error
	for _, t := range m.Types {
		for _, method := range t.Methods {
			if err := w.processMethod(method); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (w *Weaver) processMethod(method *sil.MethodDef) error {
	source, marked, err := w.sourceFor(method)
	if err != nil || !marked {
		return err
	}
	return asm.Assemble(method, source)
}

// sourceFor picks the method's assembly source: an external patch wins
// over an inline block when both markers are present. An empty inline
// block is still a marked method; it assembles to an empty body.
func (w *Weaver) sourceFor(method *sil.MethodDef) (string, bool, error) {
	if a := method.Attr(AttrPatch); a != nil {
		if w.Cache == nil {
			return "", false, fmt.Errorf("%s: patch %q requested but no patch directory configured",
				method.FullName(), a.Arg)
		}
		text, err := w.Cache.FindPatch(a.Arg)
		if err != nil {
			return "", false, fmt.Errorf("%s: %w", method.FullName(), err)
		}
		return text, true, nil
	}
	if a := method.Attr(AttrBlock); a != nil {
		return a.Arg, true, nil
	}
	return "", false, nil
}
