package toolpool

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

const (
	stubIndent = "    "
	stubBody   = "pass  # Stub implementation"
)

// stubOf renders a definition as its signature, its docstring and a pass
// body. Classes list their public methods the same way, one level deeper.
func stubOf(node *sitter.Node, content []byte, indent string) string {
	var b strings.Builder
	b.WriteString(indent + signature(node, content) + "\n")
	inner := indent + stubIndent
	doc := docstring(node, content)
	if doc != "" {
		writeDoc(&b, doc, inner)
	}

	if node.Type() != "class_definition" {
		b.WriteString(inner + stubBody + "\n")
		return b.String()
	}

	methods := classMethods(node, content)
	if len(methods) == 0 {
		b.WriteString(inner + stubBody + "\n")
		return b.String()
	}
	for i, m := range methods {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(stubOf(m, content, inner))
	}
	return b.String()
}

// signature is the definition header up to and including its colon.
func signature(node *sitter.Node, content []byte) string {
	body := node.ChildByFieldName("body")
	if body == nil {
		return strings.TrimSpace(node.Content(content))
	}
	return strings.TrimSpace(string(content[node.StartByte():body.StartByte()]))
}

func classMethods(class *sitter.Node, content []byte) []*sitter.Node {
	body := class.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var methods []*sitter.Node
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		if child.Type() == "decorated_definition" {
			child = child.ChildByFieldName("definition")
			if child == nil {
				continue
			}
		}
		if child.Type() != "function_definition" {
			continue
		}
		name := child.ChildByFieldName("name")
		if name == nil {
			continue
		}
		n := name.Content(content)
		if strings.HasPrefix(n, "_") && n != "__init__" {
			continue
		}
		methods = append(methods, child)
	}
	return methods
}

func writeDoc(b *strings.Builder, doc, indent string) {
	b.WriteString(indent + `"""` + "\n")
	for _, line := range strings.Split(doc, "\n") {
		if line == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString(indent + line + "\n")
	}
	b.WriteString(indent + `"""` + "\n")
}

// docstring returns a definition's docstring with inspect.cleandoc rules:
// the first line is stripped, the rest lose their common indentation, and
// blank lines at either end are dropped.
func docstring(node *sitter.Node, content []byte) string {
	raw, ok := rawDocstring(node, content)
	if !ok {
		return ""
	}
	lines := strings.Split(strings.ReplaceAll(raw, "\t", "        "), "\n")
	margin := -1
	for _, line := range lines[1:] {
		trimmed := strings.TrimLeft(line, " ")
		if trimmed == "" {
			continue
		}
		if n := len(line) - len(trimmed); margin < 0 || n < margin {
			margin = n
		}
	}
	lines[0] = strings.TrimSpace(lines[0])
	for i := 1; i < len(lines); i++ {
		if len(lines[i]) >= margin && margin > 0 {
			lines[i] = lines[i][margin:]
		}
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// rawDocstring is the literal body of the first statement when it is a string.
func rawDocstring(node *sitter.Node, content []byte) (string, bool) {
	body := node.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return "", false
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return "", false
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return "", false
	}
	return stringValue(str.Content(content))
}
