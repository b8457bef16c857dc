// Package srctesting contains common helpers for unit testing source code
// transformation.
package srctesting

import (
	"bytes"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"testing"
)

// Parse the source from the string and return the complete AST.
func Parse(t *testing.T, fset *token.FileSet, name, src string) *ast.File {
	t.Helper()
	file, err := parser.ParseFile(fset, name, src, parser.ParseComments)
	if err != nil {
		t.Fatalf("Failed to parse test source: %s", err)
	}
	return file
}

// ParseFuncDecl parses source with a single function defined and returns the
// function AST.
//
// Fails the test if there isn't exactly one function declared in the source.
func ParseFuncDecl(t *testing.T, fset *token.FileSet, name, src string) *ast.FuncDecl {
	t.Helper()
	file := Parse(t, fset, name, src)
	var fdecl *ast.FuncDecl
	for _, decl := range file.Decls {
		if d, ok := decl.(*ast.FuncDecl); ok {
			if fdecl != nil {
				t.Fatal("Test source declares more than one function")
			}
			fdecl = d
		}
	}
	if fdecl == nil {
		t.Fatal("Test source doesn't declare a function")
	}
	return fdecl
}

// Format returns the source representation of the given AST node.
func Format(t *testing.T, fset *token.FileSet, node any) string {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := format.Node(buf, fset, node); err != nil {
		t.Fatalf("Failed to format AST node %T: %s", node, err)
	}
	return buf.String()
}
