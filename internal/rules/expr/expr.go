// Package expr implements the sandboxed boolean expression language rules
// are written in (spec.md §4.5, §9). The grammar is deliberately small:
// literals, identifiers, unary/binary arithmetic, comparisons, and
// and/or/not — nothing that could reach a host capability. No library in
// the retrieved example pack offers a safe expression evaluator
// (govaluate/expr-lang/cel-go/gval are all absent), so this is hand-built
// on the standard library, which is what spec.md §9 itself calls for.
package expr

import (
	"fmt"
)

// Scope resolves identifier names to values for evaluation. A missing
// name binds to 0, per spec.md §4.5's "null → 0" rule.
type Scope interface {
	Lookup(name string) (any, bool)
}

// MapScope is a Scope backed by a plain map, used directly by tests and by
// anything that already has a map[string]any in hand.
type MapScope map[string]any

func (m MapScope) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Parse compiles a rule's logic_expression into an evaluable Expr. The
// string is always treated as untrusted input: Parse rejects anything
// outside the restricted grammar rather than attempting partial support.
func Parse(source string) (Expr, error) {
	toks, err := lex(source)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.peek().text, p.pos)
	}
	return node, nil
}

// Expr is a compiled, side-effect-free boolean (or arithmetic) expression.
type Expr interface {
	eval(s Scope) (value, error)
}

// Eval runs the expression against scope and coerces the result to a bool,
// matching the rule engine's "does this rule match" use.
func Eval(e Expr, s Scope) (bool, error) {
	v, err := e.eval(s)
	if err != nil {
		return false, err
	}
	return v.truthy(), nil
}
