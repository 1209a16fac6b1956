package toolpool

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Symbol is a top-level class or function declared in a tool module.
type Symbol struct {
	Name string
	Kind string // "class" or "function"
	Doc  string // first non-blank docstring line
	// Stub shows the model the symbol's API: signature, docstring and a pass
	// body, with public methods for classes.
	Stub string
}

// symbolParser extracts exported symbols from Python source. Not safe for
// concurrent use.
type symbolParser struct {
	parser *sitter.Parser
}

func newSymbolParser() *symbolParser {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return &symbolParser{parser: parser}
}

// Parse returns the module's exported symbols in declaration order. When the
// module assigns __all__, only those names are returned, in that order.
func (p *symbolParser) Parse(ctx context.Context, content []byte) ([]Symbol, error) {
	tree, err := p.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse python: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	var symbols []Symbol
	var exported []string
	declaredAll := false

	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "class_definition", "function_definition":
			if s, ok := symbolOf(child, content); ok {
				symbols = append(symbols, s)
			}
		case "decorated_definition":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				inner := child.NamedChild(j)
				if inner.Type() != "class_definition" && inner.Type() != "function_definition" {
					continue
				}
				if s, ok := symbolOf(inner, content); ok {
					symbols = append(symbols, s)
				}
			}
		case "expression_statement":
			if names, ok := allAssignment(child, content); ok {
				exported, declaredAll = names, true
			}
		}
	}

	if !declaredAll {
		return symbols, nil
	}
	byName := make(map[string]Symbol, len(symbols))
	for _, s := range symbols {
		byName[s.Name] = s
	}
	out := make([]Symbol, 0, len(exported))
	seen := make(map[string]bool, len(exported))
	for _, name := range exported {
		if s, ok := byName[name]; ok && !seen[name] {
			out = append(out, s)
			seen[name] = true
		}
	}
	return out, nil
}

func symbolOf(node *sitter.Node, content []byte) (Symbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return Symbol{}, false
	}
	kind := "function"
	if node.Type() == "class_definition" {
		kind = "class"
	}
	return Symbol{
		Name: nameNode.Content(content),
		Kind: kind,
		Doc:  docSummary(node, content),
		Stub: stubOf(node, content, ""),
	}, true
}

// docSummary is the first line of the cleaned docstring.
func docSummary(node *sitter.Node, content []byte) string {
	doc := docstring(node, content)
	if i := strings.IndexByte(doc, '\n'); i >= 0 {
		return doc[:i]
	}
	return doc
}

// allAssignment matches `__all__ = [...]` or a tuple of string literals.
func allAssignment(stmt *sitter.Node, content []byte) ([]string, bool) {
	if stmt.NamedChildCount() == 0 {
		return nil, false
	}
	assign := stmt.NamedChild(0)
	if assign.Type() != "assignment" {
		return nil, false
	}
	left := assign.ChildByFieldName("left")
	right := assign.ChildByFieldName("right")
	if left == nil || right == nil || left.Content(content) != "__all__" {
		return nil, false
	}
	if right.Type() != "list" && right.Type() != "tuple" {
		return nil, false
	}
	var names []string
	for i := 0; i < int(right.NamedChildCount()); i++ {
		item := right.NamedChild(i)
		if item.Type() != "string" {
			continue
		}
		if v, ok := stringValue(item.Content(content)); ok {
			names = append(names, v)
		}
	}
	return names, true
}

// stringValue strips the prefix and quotes from a Python string literal's
// source text. Escapes are left as written; docstrings and identifiers in
// __all__ rarely carry any.
func stringValue(raw string) (string, bool) {
	s := strings.TrimLeft(raw, "rRuUbBfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)], true
		}
	}
	return "", false
}
