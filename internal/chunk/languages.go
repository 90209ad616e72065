package chunk

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/quarrylabs/quarry/internal/store"
)

// LanguageSpec describes one supported language: its tree-sitter grammar and
// the node types that define symbols. The set of specs is closed; adding a
// language means adding a spec here and nothing else.
type LanguageSpec struct {
	Name       string
	Extensions []string
	Grammar    *sitter.Language

	// Node type -> symbol type for symbol-defining AST nodes.
	SymbolNodes map[string]store.SymbolType
}

// languageSpecs is the closed registry, keyed by language name.
var languageSpecs = buildLanguageSpecs()

func buildLanguageSpecs() map[string]*LanguageSpec {
	goSpec := &LanguageSpec{
		Name:       "go",
		Extensions: []string{".go"},
		Grammar:    golang.GetLanguage(),
		SymbolNodes: map[string]store.SymbolType{
			"function_declaration": store.SymbolTypeFunction,
			"method_declaration":   store.SymbolTypeMethod,
			"type_declaration":     store.SymbolTypeType,
			"const_declaration":    store.SymbolTypeConstant,
			"var_declaration":      store.SymbolTypeVariable,
		},
	}

	jsSymbols := map[string]store.SymbolType{
		"function_declaration": store.SymbolTypeFunction,
		"method_definition":    store.SymbolTypeMethod,
		"class_declaration":    store.SymbolTypeClass,
		"lexical_declaration":  store.SymbolTypeConstant,
		"variable_declaration": store.SymbolTypeVariable,
	}

	tsSymbols := map[string]store.SymbolType{
		"interface_declaration":  store.SymbolTypeInterface,
		"type_alias_declaration": store.SymbolTypeType,
	}
	for k, v := range jsSymbols {
		tsSymbols[k] = v
	}

	pySpec := &LanguageSpec{
		Name:       "python",
		Extensions: []string{".py"},
		Grammar:    python.GetLanguage(),
		SymbolNodes: map[string]store.SymbolType{
			"function_definition": store.SymbolTypeFunction,
			"class_definition":    store.SymbolTypeClass,
		},
	}

	return map[string]*LanguageSpec{
		"go":     goSpec,
		"python": pySpec,
		"javascript": {
			Name:        "javascript",
			Extensions:  []string{".js", ".mjs", ".jsx"},
			Grammar:     javascript.GetLanguage(),
			SymbolNodes: jsSymbols,
		},
		"typescript": {
			Name:        "typescript",
			Extensions:  []string{".ts"},
			Grammar:     typescript.GetLanguage(),
			SymbolNodes: tsSymbols,
		},
		"tsx": {
			Name:        "tsx",
			Extensions:  []string{".tsx"},
			Grammar:     tsx.GetLanguage(),
			SymbolNodes: tsSymbols,
		},
	}
}

// SpecForLanguage returns the language spec by name.
func SpecForLanguage(name string) (*LanguageSpec, bool) {
	spec, ok := languageSpecs[name]
	return spec, ok
}

// SpecForExtension returns the language spec for a file extension.
func SpecForExtension(ext string) (*LanguageSpec, bool) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	for _, spec := range languageSpecs {
		for _, e := range spec.Extensions {
			if e == ext {
				return spec, true
			}
		}
	}
	return nil, false
}

// SupportedLanguages lists the names of all registered languages.
func SupportedLanguages() []string {
	names := make([]string, 0, len(languageSpecs))
	for name := range languageSpecs {
		names = append(names, name)
	}
	return names
}
