package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry maps a language tag to the tree-sitter grammar and
// node-type table internal/chunk's AST tier uses to pick out significant
// nodes: function/method definitions, class/struct/type bodies, and
// constant/variable declarations. Import nodes are not in the table and
// do not become chunks of their own.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry builds a registry preloaded with every grammar this
// module ships a tree-sitter binding for.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}
	for _, v := range builtinGrammars() {
		r.registerLanguage(v.config, v.grammar)
	}
	return r
}

// GetByExtension returns the language configuration for a file extension.
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	langName, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	config, ok := r.configs[langName]
	return config, ok
}

// GetByName returns the language configuration by name.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the tree-sitter grammar for a language name.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedExtensions returns every extension with a registered grammar.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

func (r *LanguageRegistry) registerLanguage(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

type grammarVariant struct {
	config  *LanguageConfig
	grammar *sitter.Language
}

// jsFamilyConfig builds the shared node-type table JS, JSX, TS, and TSX
// all agree on; only the grammar, extension, and name-specific additions
// (interfaces, type aliases) vary per dialect.
func jsFamilyConfig(name string, extensions []string) *LanguageConfig {
	return &LanguageConfig{
		Name:       name,
		Extensions: extensions,
		FunctionTypes: []string{
			"function_declaration",
			"function",
		},
		MethodTypes: []string{"method_definition"},
		ClassTypes:  []string{"class_declaration"},
		ConstantTypes: []string{
			"lexical_declaration", // const and let
		},
		VariableTypes: []string{
			"variable_declaration", // var
		},
		NameField: "name",
	}
}

// builtinGrammars is the source of truth for every language this module
// ships AST-aware chunking for (spec §4.2 tier 1). Go has no ClassTypes
// (receiver methods are their own top-level symbol); Python has no
// MethodTypes (a method is a function_definition nested inside a
// class_definition, collected once as the enclosing class).
func builtinGrammars() []grammarVariant {
	goConfig := &LanguageConfig{
		Name:          "go",
		Extensions:    []string{".go"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration"},
		TypeDefTypes:  []string{"type_declaration"},
		ConstantTypes: []string{"const_declaration"},
		VariableTypes: []string{"var_declaration"},
		NameField:     "name",
	}

	tsConfig := jsFamilyConfig("typescript", []string{".ts"})
	tsConfig.InterfaceTypes = []string{"interface_declaration"}
	tsConfig.TypeDefTypes = []string{"type_alias_declaration"}

	tsxConfig := jsFamilyConfig("tsx", []string{".tsx"})
	tsxConfig.InterfaceTypes = tsConfig.InterfaceTypes
	tsxConfig.TypeDefTypes = tsConfig.TypeDefTypes

	jsConfig := jsFamilyConfig("javascript", []string{".js", ".mjs"})
	jsxConfig := jsFamilyConfig("jsx", []string{".jsx"})

	pyConfig := &LanguageConfig{
		Name:          "python",
		Extensions:    []string{".py"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"class_definition"},
		VariableTypes: []string{"assignment"}, // top-level module variables
		NameField:     "name",
	}

	return []grammarVariant{
		{goConfig, golang.GetLanguage()},
		{tsConfig, typescript.GetLanguage()},
		{tsxConfig, tsx.GetLanguage()},
		{jsConfig, javascript.GetLanguage()},
		{jsxConfig, javascript.GetLanguage()}, // JSX reuses the JS grammar
		{pyConfig, python.GetLanguage()},
	}
}

// defaultRegistry is the process-wide registry every ASTChunker shares
// unless constructed with an explicit one (tests substitute their own).
var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
