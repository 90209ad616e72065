package chunk

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser wraps a tree-sitter parser over the closed language registry.
type Parser struct {
	parser *sitter.Parser
}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{parser: sitter.NewParser()}
}

// Parse parses source and returns the converted tree. A tree whose root
// contains parse errors is returned with ErrPartialParse so the caller can
// choose the heuristic path.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	spec, ok := SpecForLanguage(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}

	p.parser.SetLanguage(spec.Grammar)

	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("failed to parse source: nil tree")
	}

	root := convertNode(tsTree.RootNode())
	tree := &Tree{Root: root, Source: source, Language: language}
	if root.HasError {
		return tree, ErrPartialParse
	}
	return tree, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// ErrPartialParse marks a tree that parsed with errors.
var ErrPartialParse = fmt.Errorf("source parsed with errors")

// Tree is a converted parse tree, detached from tree-sitter's memory.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node is one converted AST node.
type Node struct {
	Type      string
	StartByte uint32
	EndByte   uint32
	StartRow  uint32 // 0-indexed
	EndRow    uint32
	Children  []*Node
	HasError  bool
}

func convertNode(tsNode *sitter.Node) *Node {
	if tsNode == nil {
		return nil
	}

	node := &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartRow:  tsNode.StartPoint().Row,
		EndRow:    tsNode.EndPoint().Row,
		HasError:  tsNode.HasError(),
		Children:  make([]*Node, 0, int(tsNode.ChildCount())),
	}

	for i := uint32(0); i < tsNode.ChildCount(); i++ {
		if child := tsNode.Child(int(i)); child != nil {
			node.Children = append(node.Children, convertNode(child))
		}
	}

	return node
}

// Text returns the source slice covered by the node.
func (n *Node) Text(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// ChildOfType returns the first direct child with the given type.
func (n *Node) ChildOfType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// Walk traverses depth-first; fn returning false prunes the subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
