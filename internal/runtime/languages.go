package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language describes one supported source language. Tag is the file type
// recorded in the model for files of this language.
type Language struct {
	Name       string
	Tag        string
	Extensions []string
	grammar    func() *sitter.Language
}

var languages = []Language{
	{Name: "go", Tag: "GO", Extensions: []string{".go"}, grammar: golang.GetLanguage},
	{Name: "typescript", Tag: "TS", Extensions: []string{".ts", ".tsx"}, grammar: ts.GetLanguage},
	{Name: "javascript", Tag: "JS", Extensions: []string{".js", ".jsx"}, grammar: javascript.GetLanguage},
	{Name: "python", Tag: "PY", Extensions: []string{".py"}, grammar: python.GetLanguage},
	{Name: "rust", Tag: "RS", Extensions: []string{".rs"}, grammar: rust.GetLanguage},
	{Name: "c", Tag: "C", Extensions: []string{".c", ".h"}, grammar: c.GetLanguage},
	{Name: "cpp", Tag: "CPP", Extensions: []string{".cpp", ".cc", ".cxx", ".hpp"}, grammar: cpp.GetLanguage},
	{Name: "java", Tag: "JAVA", Extensions: []string{".java"}, grammar: java.GetLanguage},
	{Name: "php", Tag: "PHP", Extensions: []string{".php"}, grammar: php.GetLanguage},
	{Name: "ruby", Tag: "RB", Extensions: []string{".rb"}, grammar: ruby.GetLanguage},
}

var (
	byExt      map[string]*Language
	byName     map[string]*Language
	byTag      map[string]*Language
	grammars   map[string]*sitter.Language
	tablesOnce sync.Once
)

func initTables() {
	tablesOnce.Do(func() {
		byExt = make(map[string]*Language)
		byName = make(map[string]*Language)
		byTag = make(map[string]*Language)
		grammars = make(map[string]*sitter.Language)
		for i := range languages {
			l := &languages[i]
			byName[l.Name] = l
			byTag[l.Tag] = l
			grammars[l.Name] = l.grammar()
			for _, ext := range l.Extensions {
				byExt[ext] = l
			}
		}
	})
}

// Languages returns every supported language.
func Languages() []Language {
	return append([]Language(nil), languages...)
}

// LanguageForFile returns the language of a path by its extension, matched
// case-insensitively.
func LanguageForFile(path string) (Language, bool) {
	initTables()
	l, ok := byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Language{}, false
	}
	return *l, true
}

// LanguageForTag returns the language recorded under a file type tag.
func LanguageForTag(tag string) (Language, bool) {
	initTables()
	l, ok := byTag[strings.ToUpper(tag)]
	if !ok {
		return Language{}, false
	}
	return *l, true
}

// ParserForLanguage returns the tree-sitter grammar for a language name.
func ParserForLanguage(name string) (*sitter.Language, bool) {
	initTables()
	g, ok := grammars[name]
	return g, ok
}

// Parse parses src with the grammar of the named language.
func Parse(ctx context.Context, src []byte, language string) (*sitter.Tree, *sitter.Language, error) {
	lang, ok := ParserForLanguage(language)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported language %q", language)
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	return tree, lang, nil
}
