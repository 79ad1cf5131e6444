package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "q.go", "package q\n\n"+
		"const QGood = `--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3\nselect 1;`\n"+
		"const QMissing = `select 2;`\n"+
		"const QEmpty = `--sql 0b1c8a4e-2a8f-4d7e-9a55-3c4f0e1b2d6a\n`\n"+
		"const message = `select a model with care`\n")

	queries, violations, err := lintFile(path)
	if err != nil {
		t.Fatalf("lintFile error: %v", err)
	}
	if len(queries) != 1 || queries[0].name != "QGood" {
		t.Fatalf("unexpected queries %+v", queries)
	}
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %+v", violations)
	}
	if violations[0].name != "QMissing" || violations[1].name != "QEmpty" {
		t.Fatalf("unexpected violations %+v", violations)
	}
}

func TestDuplicates(t *testing.T) {
	dir := t.TempDir()
	marker := "--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3"
	a := writeFile(t, dir, "a.go", "package q\n\nconst QA = `"+marker+"\nselect 1;`\n")
	b := writeFile(t, dir, "b.go", "package q\n\nconst QB = `"+marker+"\nselect 2;`\n")

	var all []query
	for _, path := range []string{a, b} {
		qs, vs, err := lintFile(path)
		if err != nil || len(vs) > 0 {
			t.Fatalf("lintFile(%s) = %v %v", path, vs, err)
		}
		all = append(all, qs...)
	}
	dups := duplicates(all)
	if len(dups) != 1 || dups[0].name != "QB" {
		t.Fatalf("expected QB to be reported, got %+v", dups)
	}
}

func TestGoFilesSkipsTests(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package q\n")
	writeFile(t, dir, "a_test.go", "package q\n")
	files, err := goFiles(dir)
	if err != nil {
		t.Fatalf("goFiles error: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "a.go" {
		t.Fatalf("unexpected files %v", files)
	}
}
