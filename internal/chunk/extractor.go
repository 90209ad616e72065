package chunk

import (
	"strings"

	"github.com/quarrylabs/quarry/internal/store"
)

// symbolFromNode builds a Symbol for a symbol-defining AST node, or nil when
// no name can be extracted. Symbols from this path carry ConfidenceAST.
func symbolFromNode(n *Node, source []byte, symType store.SymbolType, language string) *store.Symbol {
	name := symbolName(n, source, language)
	if name == "" {
		return nil
	}

	return &store.Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartRow) + 1,
		EndLine:    int(n.EndRow) + 1,
		Signature:  signatureLine(n.Text(source), symType, language),
		DocComment: precedingComment(n, source, language),
		Confidence: store.ConfidenceAST,
	}
}

// symbolName extracts a symbol's identifier per language grammar.
func symbolName(n *Node, source []byte, language string) string {
	switch language {
	case "go":
		return goSymbolName(n, source)
	case "typescript", "tsx", "javascript":
		return jsSymbolName(n, source)
	case "python":
		if id := n.ChildOfType("identifier"); id != nil {
			return id.Text(source)
		}
	default:
		if id := n.ChildOfType("identifier"); id != nil {
			return id.Text(source)
		}
	}
	return ""
}

func goSymbolName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		if id := n.ChildOfType("identifier"); id != nil {
			return id.Text(source)
		}
	case "method_declaration":
		if id := n.ChildOfType("field_identifier"); id != nil {
			return id.Text(source)
		}
	case "type_declaration":
		if spec := n.ChildOfType("type_spec"); spec != nil {
			if id := spec.ChildOfType("type_identifier"); id != nil {
				return id.Text(source)
			}
		}
	case "const_declaration":
		if spec := n.ChildOfType("const_spec"); spec != nil {
			if id := spec.ChildOfType("identifier"); id != nil {
				return id.Text(source)
			}
		}
	case "var_declaration":
		if spec := n.ChildOfType("var_spec"); spec != nil {
			if id := spec.ChildOfType("identifier"); id != nil {
				return id.Text(source)
			}
		}
	}
	return ""
}

func jsSymbolName(n *Node, source []byte) string {
	// const/let/var names sit inside a variable_declarator.
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		if decl := n.ChildOfType("variable_declarator"); decl != nil {
			if id := decl.ChildOfType("identifier"); id != nil {
				return id.Text(source)
			}
		}
		return ""
	}

	for _, child := range n.Children {
		if child.Type == "identifier" || child.Type == "type_identifier" || child.Type == "property_identifier" {
			return child.Text(source)
		}
	}
	return ""
}

// functionValuedDeclaration recognizes `const f = () => {}` and
// `const f = function() {}` in JS/TS, which should be typed as functions
// rather than constants.
func functionValuedDeclaration(n *Node, source []byte, language string) *store.Symbol {
	switch language {
	case "typescript", "tsx", "javascript":
	default:
		return nil
	}
	if n.Type != "lexical_declaration" && n.Type != "variable_declaration" {
		return nil
	}

	decl := n.ChildOfType("variable_declarator")
	if decl == nil {
		return nil
	}

	var name string
	var hasFunction bool
	for _, child := range decl.Children {
		switch child.Type {
		case "identifier":
			name = child.Text(source)
		case "arrow_function", "function", "function_expression":
			hasFunction = true
		}
	}
	if name == "" || !hasFunction {
		return nil
	}

	return &store.Symbol{
		Name:       name,
		Type:       store.SymbolTypeFunction,
		StartLine:  int(n.StartRow) + 1,
		EndLine:    int(n.EndRow) + 1,
		Signature:  signatureLine(n.Text(source), store.SymbolTypeFunction, language),
		Confidence: store.ConfidenceAST,
	}
}

// precedingComment collects the contiguous line-comment block immediately
// above a node.
func precedingComment(n *Node, source []byte, language string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	prefix := "//"
	if language == "python" {
		prefix = "#"
	}

	var commentLines []string
	pos := lineStart - 1 // before the newline

	for pos > 0 {
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++
		}

		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))
		if strings.HasPrefix(prevLine, prefix) {
			commentLines = append([]string{strings.TrimPrefix(prevLine, prefix)}, commentLines...)
			continue
		}
		break
	}

	if len(commentLines) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

// signatureLine extracts the declaration line of a symbol, up to the opening
// brace for brace languages.
func signatureLine(content string, symType store.SymbolType, language string) string {
	firstLine, _, _ := strings.Cut(content, "\n")
	firstLine = strings.TrimSpace(firstLine)

	switch symType {
	case store.SymbolTypeFunction, store.SymbolTypeMethod,
		store.SymbolTypeClass, store.SymbolTypeInterface, store.SymbolTypeType:
		if language != "python" {
			if idx := strings.Index(firstLine, "{"); idx != -1 {
				return strings.TrimSpace(firstLine[:idx])
			}
		}
		return firstLine
	}
	return ""
}
