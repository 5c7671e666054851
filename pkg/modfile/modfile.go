// Package modfile loads textual module definitions (.sil files): module,
// type, field, and method declarations with inline assembly bodies. The
// loader builds metadata only; bodies are compiled later by the weaver.
package modfile

import (
	"fmt"
	"os"
	"strings"

	"github.com/silasm/sil/pkg/asm"
	"github.com/silasm/sil/pkg/sil"
	"github.com/silasm/sil/pkg/weaver"
)

// Load reads one .sil file into the registry. Types and signatures are
// resolved against the module being loaded plus any modules already in
// the registry, so dependency files must be loaded first.
func Load(reg *sil.Registry, path string) (*sil.ModuleDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	m, err := Parse(reg, string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse reads module source text into the registry.
//
// The format is line-oriented:
//
//	module Example
//	type Example.Hasher [: BaseTypeName]
//	  field [static] TYPE NAME
//	  [AttrName(argument)]
//	  method [static] RETTYPE NAME(TYPE NAME, ...)
//	    <assembly statements>
//	  end
//	end
//
// `//` starts a comment. Method bodies are stored as AsmBlock attributes
// for the weaver, so a method may instead carry an explicit [AsmPatch(...)]
// marker and an empty body.
func Parse(reg *sil.Registry, source string) (*sil.ModuleDef, error) {
	p := &parser{reg: reg, lines: strings.Split(source, "\n")}
	return p.run()
}

type parser struct {
	reg   *sil.Registry
	lines []string
	pos   int

	module *sil.ModuleDef
	search []*sil.ModuleDef
}

func (p *parser) next() (string, bool) {
	for p.pos < len(p.lines) {
		line := p.lines[p.pos]
		p.pos++
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			return line, true
		}
	}
	return "", false
}

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf("line %d: "+format, append([]any{p.pos}, args...)...)
}

func (p *parser) run() (*sil.ModuleDef, error) {
	for {
		line, ok := p.next()
		if !ok {
			break
		}
		word, rest := cut(line)
		switch word {
		case "module":
			if p.module != nil {
				return nil, p.errf("module is already declared")
			}
			if rest == "" {
				return nil, p.errf("module wants a name")
			}
			p.module = p.reg.NewModule(rest)
			// The module under load resolves against itself first, then
			// everything already registered.
			p.search = []*sil.ModuleDef{p.module}
			for _, m := range p.reg.Modules() {
				if m != p.module {
					p.search = append(p.search, m)
				}
			}
		case "type":
			if p.module == nil {
				return nil, p.errf("type before module declaration")
			}
			if err := p.typeDecl(rest); err != nil {
				return nil, err
			}
		default:
			return nil, p.errf("unexpected %q at top level", word)
		}
	}
	if p.module == nil {
		return nil, fmt.Errorf("no module declaration")
	}
	return p.module, nil
}

// typeDecl parses `type Name [: Base]` and the member lines up to `end`.
// Base types are resolved by name against the search list, so bases
// must be declared before the types that extend them.
func (p *parser) typeDecl(rest string) (err error) {
	name, base, _ := strings.Cut(rest, ":")
	name = strings.TrimSpace(name)
	base = strings.TrimSpace(base)
	if name == "" {
		return p.errf("type wants a name")
	}
	if p.module.TypeNamed(name) != nil {
		return p.errf("type %q is already declared", name)
	}
	td := p.module.AddType(name)
	if base != "" {
		td.Base = p.findType(base)
		if td.Base == nil {
			return p.errf("base type %q not found", base)
		}
	}

	var attrs []sil.Attribute
	for {
		line, ok := p.next()
		if !ok {
			return p.errf("type %s: missing end", name)
		}
		if line == "end" {
			return nil
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			a, err := parseAttr(line)
			if err != nil {
				return p.errf("type %s: %v", name, err)
			}
			attrs = append(attrs, a)
			continue
		}
		word, decl := cut(line)
		switch word {
		case "field":
			if err := p.fieldDecl(td, decl); err != nil {
				return err
			}
			attrs = nil
		case "method":
			if err := p.methodDecl(td, decl, attrs); err != nil {
				return err
			}
			attrs = nil
		case "generic":
			// `generic T U ...` declares type-level generic parameters.
			td.GenericParams = append(td.GenericParams, strings.Fields(decl)...)
		default:
			return p.errf("type %s: unexpected %q", name, word)
		}
	}
}

func (p *parser) fieldDecl(td *sil.TypeDef, decl string) error {
	static := false
	if w, rest := cut(decl); w == "static" {
		static = true
		decl = rest
	}
	// Everything before the last word is the type text.
	i := strings.LastIndexByte(decl, ' ')
	if i < 0 {
		return p.errf("field wants a type and a name")
	}
	typeText, name := strings.TrimSpace(decl[:i]), strings.TrimSpace(decl[i+1:])
	t, err := p.resolveType(typeText)
	if err != nil {
		return p.errf("field %s: %v", name, err)
	}
	if td.FieldNamed(name) != nil {
		return p.errf("field %q is already declared on %s", name, td.FullName())
	}
	td.AddField(name, t, static)
	return nil
}

func (p *parser) methodDecl(td *sil.TypeDef, decl string, attrs []sil.Attribute) error {
	sig, err := asm.ParseSignature(decl, p.search)
	if err != nil {
		return p.errf("%v", err)
	}
	m := td.AddMethod(sig.Name, sig.Return, sig.Static)
	for _, param := range sig.Params {
		m.AddParam(param.Name, param.Type)
	}
	m.Attrs = append(m.Attrs, attrs...)

	var body []string
	for {
		line, ok := p.next()
		if !ok {
			return p.errf("method %s: missing end", m.FullName())
		}
		if line == "end" {
			break
		}
		body = append(body, line)
	}
	if len(body) > 0 {
		if m.Attr(weaver.AttrPatch) != nil {
			return p.errf("method %s has both a patch marker and an inline body", m.FullName())
		}
		m.Attrs = append(m.Attrs, sil.Attribute{Name: weaver.AttrBlock, Arg: strings.Join(body, "\n")})
	}
	return nil
}

func (p *parser) findType(name string) *sil.TypeDef {
	for _, m := range p.search {
		if t := m.TypeNamed(name); t != nil {
			return t
		}
	}
	return nil
}

func (p *parser) resolveType(text string) (sil.TypeRef, error) {
	return asm.ResolveTypeName(text, p.search)
}

// parseAttr reads `[Name(argument)]` or `[Name]`.
func parseAttr(line string) (sil.Attribute, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
	name, arg, found := strings.Cut(inner, "(")
	name = strings.TrimSpace(name)
	if name == "" {
		return sil.Attribute{}, fmt.Errorf("malformed attribute %q", line)
	}
	if !found {
		return sil.Attribute{Name: name}, nil
	}
	arg = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(arg), ")"))
	arg = strings.Trim(arg, `"`)
	return sil.Attribute{Name: name, Arg: arg}, nil
}

func cut(line string) (string, string) {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i], strings.TrimSpace(line[i+1:])
	}
	return line, ""
}
