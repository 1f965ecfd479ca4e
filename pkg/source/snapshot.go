package source

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	gotypes "go/types"
	"strings"

	"methodlift/pkg/types"
)

// Snapshot is an immutable parse of one file at a captured document version.
// Every extraction request runs against exactly one Snapshot; the engine never
// mutates it, so any number of requests may share one concurrently.
type Snapshot struct {
	Path    string
	Version int64
	Content []byte
	Fset    *token.FileSet
	File    *ast.File
	Info    *gotypes.Info
	Pkg     *gotypes.Package
}

// NewSnapshot parses and type-checks content. Type errors are tolerated: the
// checker runs file-local (imports unresolved), and the engine degrades to
// syntactic reasoning where type facts are missing.
func NewSnapshot(path string, content []byte, version int64) (*Snapshot, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return nil, &types.ExtractError{
			Kind:   types.InternalAnalysisFailure,
			Detail: fmt.Sprintf("parse failed: %v", err),
			Path:   path,
			Cause:  err,
		}
	}

	info := &gotypes.Info{
		Types: make(map[ast.Expr]gotypes.TypeAndValue),
		Defs:  make(map[*ast.Ident]gotypes.Object),
		Uses:  make(map[*ast.Ident]gotypes.Object),
	}
	conf := gotypes.Config{
		Error:                    func(error) {}, // collect nothing, keep going
		DisableUnusedImportCheck: true,
	}
	pkg, _ := conf.Check(file.Name.Name, fset, []*ast.File{file}, info)

	return &Snapshot{
		Path:    path,
		Version: version,
		Content: content,
		Fset:    fset,
		File:    file,
		Info:    info,
		Pkg:     pkg,
	}, nil
}

// CheckErrors runs the file-local checker over content and returns the
// messages NewSnapshot swallows. Import failures are dropped: file-local
// checking cannot resolve any import, so those fire on perfectly good files.
// Callers compare the messages of two contents rather than expecting an empty
// slice.
func CheckErrors(path string, content []byte) []string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, 0)
	if err != nil {
		return []string{err.Error()}
	}
	var msgs []string
	conf := gotypes.Config{
		DisableUnusedImportCheck: true,
		Error: func(err error) {
			te, ok := err.(gotypes.Error)
			if !ok {
				msgs = append(msgs, err.Error())
				return
			}
			if strings.Contains(te.Msg, "could not import") {
				return
			}
			msgs = append(msgs, te.Msg)
		},
	}
	conf.Check(file.Name.Name, fset, []*ast.File{file}, nil)
	return msgs
}

// Offset converts a token position to a byte offset in Content.
func (s *Snapshot) Offset(pos token.Pos) int {
	return s.Fset.Position(pos).Offset
}

// Line returns the 1-based line for pos.
func (s *Snapshot) Line(pos token.Pos) int {
	return s.Fset.Position(pos).Line
}

// Text returns the source text between two positions.
func (s *Snapshot) Text(start, end token.Pos) string {
	so, eo := s.Offset(start), s.Offset(end)
	if so < 0 || eo > len(s.Content) || so > eo {
		return ""
	}
	return string(s.Content[so:eo])
}

// TypeOf returns the rendered type of expr, or "" when the checker had no
// answer. Names from the snapshot's own package print unqualified.
func (s *Snapshot) TypeOf(expr ast.Expr) string {
	if s.Info == nil {
		return ""
	}
	tv, ok := s.Info.Types[expr]
	if !ok || tv.Type == nil {
		return ""
	}
	return s.RenderType(tv.Type)
}

// ResolvedType returns the checker's type for expr, or nil when it had no
// answer.
func (s *Snapshot) ResolvedType(expr ast.Expr) gotypes.Type {
	if s.Info == nil {
		return nil
	}
	tv, ok := s.Info.Types[expr]
	if !ok {
		return nil
	}
	return tv.Type
}

// RenderType prints t the way it should appear in generated code.
func (s *Snapshot) RenderType(t gotypes.Type) string {
	qual := func(p *gotypes.Package) string {
		if p == nil || p == s.Pkg {
			return ""
		}
		return p.Name()
	}
	return gotypes.TypeString(t, qual)
}

// ObjectOf resolves an identifier to its object, covering both uses and
// definitions.
func (s *Snapshot) ObjectOf(ident *ast.Ident) gotypes.Object {
	if s.Info == nil {
		return nil
	}
	if obj := s.Info.Uses[ident]; obj != nil {
		return obj
	}
	return s.Info.Defs[ident]
}
