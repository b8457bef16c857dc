// Package astutil contains helpers for locating and naming functions in Go
// syntax trees.
package astutil

import (
	"fmt"
	"go/ast"
	"regexp"
)

// RemoveParens strips all levels of parentheses around an expression.
func RemoveParens(e ast.Expr) ast.Expr {
	for {
		p, isParen := e.(*ast.ParenExpr)
		if !isParen {
			return e
		}
		e = p.X
	}
}

// FuncKey returns a string, which uniquely identifies a top-level function or
// method in a package.
func FuncKey(d *ast.FuncDecl) string {
	if recvKey := FuncReceiverKey(d); len(recvKey) > 0 {
		return recvKey + "." + d.Name.Name
	}
	return d.Name.Name
}

// FuncReceiverKey returns a string that uniquely identifies the receiver
// struct of the function or an empty string if there is no receiver.
// This name will match the name of the struct in the struct's type spec.
func FuncReceiverKey(d *ast.FuncDecl) string {
	if d == nil || d.Recv == nil || len(d.Recv.List) == 0 {
		return ``
	}
	recv := d.Recv.List[0].Type
	for {
		switch r := recv.(type) {
		case *ast.IndexListExpr:
			recv = r.X
			continue
		case *ast.IndexExpr:
			recv = r.X
			continue
		case *ast.StarExpr:
			recv = r.X
			continue
		case *ast.Ident:
			return r.Name
		default:
			panic(fmt.Errorf(`unexpected type %T in receiver of function: %v`, recv, d))
		}
	}
}

// BestBoundName resolves the best left-hand-side-bound name for a function
// literal from its ancestor nodes, or empty when the literal isn't bound to
// any name (e.g. an immediately invoked or argument-position literal).
//
// The |stack| is the literal's ancestor chain, innermost ancestor last, the
// literal itself excluded. Recognized bindings, checked on the innermost
// non-paren ancestor:
//
//	f := func() {}           // assignment: "f"
//	var f = func() {}        // value spec: "f"
//	s.handler = func() {}    // assignment to selector: "s.handler"
//	T{handler: func() {}}    // composite literal key: "handler"
func BestBoundName(stack []ast.Node, lit *ast.FuncLit) string {
	for i := len(stack) - 1; i >= 0; i-- {
		switch n := stack[i].(type) {
		case *ast.ParenExpr:
			continue
		case *ast.AssignStmt:
			for j, rhs := range n.Rhs {
				if RemoveParens(rhs) == ast.Expr(lit) && j < len(n.Lhs) {
					return exprName(n.Lhs[j])
				}
			}
			return ``
		case *ast.ValueSpec:
			for j, value := range n.Values {
				if RemoveParens(value) == ast.Expr(lit) && j < len(n.Names) {
					return n.Names[j].Name
				}
			}
			return ``
		case *ast.KeyValueExpr:
			if RemoveParens(n.Value) == ast.Expr(lit) {
				return exprName(n.Key)
			}
			return ``
		default:
			return ``
		}
	}
	return ``
}

// exprName renders an identifier or a dotted selector chain as a name.
// Expressions that aren't plain bindings (indexing, calls, etc.) produce
// empty, the same as an unbound literal.
func exprName(e ast.Expr) string {
	switch e := RemoveParens(e).(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		if base := exprName(e.X); base != `` {
			return base + "." + e.Sel.Name
		}
		return ``
	default:
		return ``
	}
}

// directiveMatcher is a regex which matches a prodcov directive
// and finds the directive action.
var directiveMatcher = regexp.MustCompile(`^\/(?:\/|\*)prodcov:([\w-]+)`)

// Ignored returns true if the prodcov:ignore directive is present on a
// function declaration.
//
// `//prodcov:ignore` excludes the declared function itself from coverage
// instrumentation, for hot paths where even a counter bump at entry is
// unwelcome. Function literals nested inside it are named and instrumented
// on their own.
func Ignored(d *ast.FuncDecl) bool {
	return hasDirective(d, `ignore`)
}

// hasDirective returns true if the associated documentation
// or line comments for the given node have the given directive action.
//
// All prodcov directives must start with `//prodcov:` or `/*prodcov:`
// followed by an action without any whitespace. The action must be one or
// more letter, decimal, underscore, or hyphen.
func hasDirective(node ast.Node, directiveAction string) bool {
	foundDirective := false
	ast.Inspect(node, func(n ast.Node) bool {
		switch a := n.(type) {
		case *ast.Comment:
			m := directiveMatcher.FindStringSubmatch(a.Text)
			if len(m) == 2 && m[1] == directiveAction {
				foundDirective = true
			}
			return false
		case *ast.CommentGroup:
			return !foundDirective
		default:
			return n == node
		}
	})
	return foundDirective
}
