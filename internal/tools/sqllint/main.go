// Command sqllint checks that every inline query constant (Q-prefixed) opens
// with a unique "--sql <uuid>" audit marker, the tag SQLRunner logs.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"genorch/internal/infra"
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

type query struct {
	file   string
	name   string
	line   int
	marker string
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"internal/sqlinline"}
	}

	var files []string
	for _, target := range targets {
		found, err := goFiles(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
			os.Exit(1)
		}
		files = append(files, found...)
	}

	var (
		queries    []query
		violations []violation
	)
	for _, path := range files {
		qs, vs, err := lintFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
			os.Exit(1)
		}
		queries = append(queries, qs...)
		violations = append(violations, vs...)
	}
	violations = append(violations, duplicates(queries)...)

	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "sqllint: query audit markers are invalid")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "  %s:%d %s (%s)\n", v.file, v.line, v.message, v.name)
		}
		os.Exit(1)
	}
	fmt.Printf("sqllint: %d queries ok\n", len(queries))
}

func goFiles(target string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if filepath.Ext(target) == ".go" {
			return []string{target}, nil
		}
		return nil, nil
	}
	var out []string
	err = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != target && (strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") || d.Name() == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go") {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// lintFile collects the Q-prefixed string constants of a file and reports the
// ones without a well-formed marker.
func lintFile(path string) ([]query, []violation, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return nil, nil, err
	}
	var (
		queries    []query
		violations []violation
	)
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range vs.Values {
			if i >= len(vs.Names) || !isQueryName(vs.Names[i].Name) {
				continue
			}
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil {
				continue
			}
			line := fset.Position(bl.Pos()).Line
			marker, body, err := infra.ExtractMarker(raw)
			if err != nil {
				violations = append(violations, violation{file: path, line: line, name: vs.Names[i].Name, message: err.Error()})
				continue
			}
			if strings.TrimSpace(body) == "" {
				violations = append(violations, violation{file: path, line: line, name: vs.Names[i].Name, message: "empty query body"})
				continue
			}
			queries = append(queries, query{file: path, name: vs.Names[i].Name, line: line, marker: marker})
		}
		return true
	})
	return queries, violations, nil
}

func duplicates(queries []query) []violation {
	seen := make(map[string]query, len(queries))
	var out []violation
	for _, q := range queries {
		if first, ok := seen[q.marker]; ok {
			out = append(out, violation{
				file:    q.file,
				line:    q.line,
				name:    q.name,
				message: fmt.Sprintf("marker %s already used by %s", q.marker, first.name),
			})
			continue
		}
		seen[q.marker] = q
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].file != out[j].file {
			return out[i].file < out[j].file
		}
		return out[i].line < out[j].line
	})
	return out
}

func isQueryName(name string) bool {
	return len(name) > 1 && name[0] == 'Q' && name[1] >= 'A' && name[1] <= 'Z'
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}
