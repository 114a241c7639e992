package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestAnalyzer(cfg common.AnalyzerConfig) *Analyzer {
	return New(cfg, common.NewSilentLogger())
}

func TestSummarizeEmitsFileSnippets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cache.go", "package cache\n\nfunc Evict() {}\n")
	writeFile(t, dir, "sub/policy.py", "def weight(key):\n    return len(key)\n")

	out, err := newTestAnalyzer(common.AnalyzerConfig{}).Summarize(context.Background(), dir)
	require.NoError(t, err)

	assert.Contains(t, out, "# Codebase Overview")
	assert.Contains(t, out, "FILE: cache.go")
	assert.Contains(t, out, "FILE: sub/policy.py")
	assert.Contains(t, out, "func Evict()")
	assert.Contains(t, out, "## Analysis Summary")
	assert.Contains(t, out, "处理文件数: 2")
}

func TestSummarizeIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.go", "package b\n")
	writeFile(t, dir, "a.go", "package a\n")
	writeFile(t, dir, "nested/c.ts", "export const c = 1\n")

	a := newTestAnalyzer(common.AnalyzerConfig{})
	first, err := a.Summarize(context.Background(), dir)
	require.NoError(t, err)
	second, err := a.Summarize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// Breadth-first: root files appear before nested ones.
	assert.Less(t, strings.Index(first, "FILE: a.go"), strings.Index(first, "FILE: nested/c.ts"))
	assert.Less(t, strings.Index(first, "FILE: a.go"), strings.Index(first, "FILE: b.go"))
}

func TestSummarizeSkipsIgnoredDirsAndUnknownExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")
	writeFile(t, dir, "node_modules/dep.js", "module.exports = {}\n")
	writeFile(t, dir, "notes.txt", "not code\n")

	out, err := newTestAnalyzer(common.AnalyzerConfig{}).Summarize(context.Background(), dir)
	require.NoError(t, err)

	assert.Contains(t, out, "FILE: main.go")
	assert.NotContains(t, out, "dep.js")
	assert.NotContains(t, out, "notes.txt")
}

func TestSummarizeHonorsFileCountBound(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")
	writeFile(t, dir, "b.go", "package b\n")
	writeFile(t, dir, "c.go", "package c\n")

	out, err := newTestAnalyzer(common.AnalyzerConfig{MaxFiles: 2}).Summarize(context.Background(), dir)
	require.NoError(t, err)

	assert.Contains(t, out, "Total sampled files: 2")
}

func TestSummarizeSkipsOversizedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "small.go", "package small\n")
	writeFile(t, dir, "big.go", strings.Repeat("x", 600))

	out, err := newTestAnalyzer(common.AnalyzerConfig{MaxFileSize: 100}).Summarize(context.Background(), dir)
	require.NoError(t, err)

	assert.Contains(t, out, "FILE: small.go")
	assert.NotContains(t, out, "FILE: big.go")
}

func TestSummarizeTruncatesToHeadLines(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, "// line")
	}
	lines = append(lines, "const tail = 1")
	writeFile(t, dir, "long.go", strings.Join(lines, "\n"))

	out, err := newTestAnalyzer(common.AnalyzerConfig{HeadLines: 10}).Summarize(context.Background(), dir)
	require.NoError(t, err)

	assert.NotContains(t, out, "const tail = 1")
}

func TestSummarizeEmptyTree(t *testing.T) {
	out, err := newTestAnalyzer(common.AnalyzerConfig{}).Summarize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Contains(t, out, "未找到可分析的代码文件。")
}

func TestSummarizeRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "file.go", "package x\n")

	_, err := newTestAnalyzer(common.AnalyzerConfig{}).Summarize(context.Background(), filepath.Join(dir, "file.go"))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrInvalid))
}

func TestSummarizeObservesCancellation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestAnalyzer(common.AnalyzerConfig{}).Summarize(ctx, dir)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrCancelled))
}
