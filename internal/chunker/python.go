package chunker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// pythonQuery captures every function and class definition, decorated or
// not, plus all import statements. Decorated definitions also match the
// bare patterns through their inner node; those duplicates are dropped by
// a parent check during collection.
const pythonQuery = `
	(function_definition name: (identifier) @name) @def
	(class_definition name: (identifier) @name) @def
	(decorated_definition definition: (function_definition name: (identifier) @name)) @def
	(decorated_definition definition: (class_definition name: (identifier) @name)) @def
	(import_statement) @import
	(import_from_statement) @import
`

type pythonStrategy struct {
	lang *sitter.Language
}

func newPythonStrategy() *pythonStrategy {
	return &pythonStrategy{lang: python.GetLanguage()}
}

// chunk parses src and emits one chunk per definition node, methods
// included, with an aggregated imports chunk when the file imports
// anything. A tree containing syntax errors fails as a whole so the caller
// can window the file instead; partial trees are never chunked.
func (p *pythonStrategy) chunk(path string, src []byte) ([]Chunk, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(p.lang)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()
	if tree.RootNode().HasError() {
		return nil, fmt.Errorf("parse %s: source contains syntax errors", path)
	}

	q, err := sitter.NewQuery([]byte(pythonQuery), p.lang)
	if err != nil {
		return nil, fmt.Errorf("compile python query: %w", err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	type defCapture struct {
		node *sitter.Node
		name string
	}
	var defs []defCapture
	var imports []*sitter.Node
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var defNode *sitter.Node
		var name string
		for _, cap := range m.Captures {
			switch q.CaptureNameForId(cap.Index) {
			case "def":
				defNode = cap.Node
			case "name":
				name = cap.Node.Content(src)
			case "import":
				imports = append(imports, cap.Node)
			}
		}
		if defNode == nil {
			continue
		}
		if parent := defNode.Parent(); parent != nil && parent.Type() == "decorated_definition" {
			continue
		}
		defs = append(defs, defCapture{node: defNode, name: name})
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].node.StartByte() < defs[j].node.StartByte() })
	sort.Slice(imports, func(i, j int) bool { return imports[i].StartByte() < imports[j].StartByte() })

	var chunks []Chunk
	if len(imports) > 0 {
		parts := make([]string, len(imports))
		for i, n := range imports {
			parts[i] = n.Content(src)
		}
		chunks = append(chunks, Chunk{
			Type:      TypeImports,
			StartLine: int(imports[0].StartPoint().Row) + 1,
			EndLine:   int(imports[len(imports)-1].EndPoint().Row) + 1,
			Content:   strings.Join(parts, "\n"),
		})
	}
	for _, d := range defs {
		chunks = append(chunks, pythonChunk(d.node, d.name, src))
	}
	return chunks, nil
}

func pythonChunk(node *sitter.Node, name string, src []byte) Chunk {
	def := node
	var decorators []string
	if node.Type() == "decorated_definition" {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == "decorator" {
				decorators = append(decorators, strings.TrimSpace(child.Content(src)))
			}
		}
		if inner := node.ChildByFieldName("definition"); inner != nil {
			def = inner
		}
	}

	typ := TypeFunction
	switch {
	case def.Type() == "class_definition":
		typ = TypeClass
	case isAsyncDef(def):
		typ = TypeAsyncFunction
	}

	return Chunk{
		Type:       typ,
		Name:       name,
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		Content:    node.Content(src),
		Decorators: decorators,
		Docstring:  docstringOf(def, src),
	}
}

// isAsyncDef reports whether the definition starts with the async keyword
// token, which the grammar places as the node's first child.
func isAsyncDef(def *sitter.Node) bool {
	if def.ChildCount() == 0 {
		return false
	}
	return def.Child(0).Type() == "async"
}

// docstringOf returns the unquoted text of a leading string expression in
// the definition body, or "" when there is none.
func docstringOf(def *sitter.Node, src []byte) string {
	body := def.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	s := str.Content(src)
	for _, quote := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, quote) && strings.HasSuffix(s, quote) && len(s) >= 2*len(quote) {
			s = s[len(quote) : len(s)-len(quote)]
			break
		}
	}
	return strings.TrimSpace(s)
}
