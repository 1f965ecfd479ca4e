package source

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"methodlift/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleSrc = `package sample

func add(a, b int) int {
	return a + b
}
`

func TestSnapshotLoadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sample.go", sampleSrc)
	store := NewDocumentStore(dir, discardLogger())

	snap, err := store.Snapshot("sample.go")
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Version)
	require.Equal(t, "sample", snap.File.Name.Name)
	require.Equal(t, string(snap.Content), sampleSrc)
}

func TestSnapshotMissingFile(t *testing.T) {
	store := NewDocumentStore(t.TempDir(), discardLogger())
	_, err := store.Snapshot("nope.go")
	require.Error(t, err)
}

func TestOpenBumpsVersion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sample.go", sampleSrc)
	store := NewDocumentStore(dir, discardLogger())

	snap, err := store.Snapshot("sample.go")
	require.NoError(t, err)
	first := snap.Version

	v := store.Open("sample.go", []byte(sampleSrc))
	require.Greater(t, v, first)

	snap2, err := store.Snapshot("sample.go")
	require.NoError(t, err)
	require.Equal(t, v, snap2.Version)
}

func TestApplyRejectsStaleVersion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sample.go", sampleSrc)
	store := NewDocumentStore(dir, discardLogger())

	snap, err := store.Snapshot("sample.go")
	require.NoError(t, err)

	// Simulate a concurrent edit between snapshot and apply.
	store.Open("sample.go", []byte(sampleSrc))

	_, err = store.Apply("sample.go", snap.Version, []Edit{{Start: 0, End: 0, Text: "// x\n"}})
	require.Error(t, err)
	ee, ok := types.AsExtractError(err)
	require.True(t, ok)
	require.Equal(t, types.StaleSnapshot, ee.Kind)
	require.True(t, ee.Retryable())

	// The document must be untouched.
	data, readErr := os.ReadFile(filepath.Join(dir, "sample.go"))
	require.NoError(t, readErr)
	require.Equal(t, sampleSrc, string(data))
}

func TestApplyWritesAndBumps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sample.go", sampleSrc)
	store := NewDocumentStore(dir, discardLogger())

	snap, err := store.Snapshot("sample.go")
	require.NoError(t, err)

	edits := []Edit{{
		Start: len("package sample\n"),
		End:   len("package sample\n"),
		Text:  "\n// added\n",
	}}
	newVersion, err := store.Apply("sample.go", snap.Version, edits)
	require.NoError(t, err)
	require.Greater(t, newVersion, snap.Version)

	data, err := os.ReadFile(filepath.Join(dir, "sample.go"))
	require.NoError(t, err)
	require.Contains(t, string(data), "// added")

	snap2, err := store.Snapshot("sample.go")
	require.NoError(t, err)
	require.Equal(t, newVersion, snap2.Version)
}

func TestApplyRejectsOverlappingEdits(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sample.go", sampleSrc)
	store := NewDocumentStore(dir, discardLogger())

	snap, err := store.Snapshot("sample.go")
	require.NoError(t, err)

	_, err = store.Apply("sample.go", snap.Version, []Edit{
		{Start: 0, End: 10, Text: "a"},
		{Start: 5, End: 15, Text: "b"},
	})
	require.Error(t, err)
	ee, ok := types.AsExtractError(err)
	require.True(t, ok)
	require.Equal(t, types.InternalAnalysisFailure, ee.Kind)
}

func TestInvalidateForcesReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sample.go", sampleSrc)
	store := NewDocumentStore(dir, discardLogger())

	snap, err := store.Snapshot("sample.go")
	require.NoError(t, err)

	changed := "package sample\n\nvar answer = 42\n"
	writeFile(t, dir, "sample.go", changed)
	store.Invalidate("sample.go")

	snap2, err := store.Snapshot("sample.go")
	require.NoError(t, err)
	require.Greater(t, snap2.Version, snap.Version)
	require.Equal(t, changed, string(snap2.Content))
}

func TestCheckErrorsFindsBrokenReference(t *testing.T) {
	clean := CheckErrors("sample.go", []byte(sampleSrc))

	broken := []byte(`package sample

func add(a, b int) int {
	return a + q
}
`)
	msgs := CheckErrors("sample.go", broken)
	require.Greater(t, len(msgs), len(clean))
}

func TestCheckErrorsIgnoresUnresolvedImports(t *testing.T) {
	// File-local checking cannot resolve imports; that alone must not count
	// as an error.
	src := []byte(`package sample

import "fmt"

func greet(name string) {
	fmt.Println(name)
}
`)
	require.Empty(t, CheckErrors("sample.go", src))
}

func TestNewSnapshotParseFailure(t *testing.T) {
	_, err := NewSnapshot("broken.go", []byte("package\n"), 1)
	require.Error(t, err)
	ee, ok := types.AsExtractError(err)
	require.True(t, ok)
	require.Equal(t, types.InternalAnalysisFailure, ee.Kind)
}
