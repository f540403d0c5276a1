package resbin

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amperelab/cellkit/internal/cellerr"
	"github.com/amperelab/cellkit/internal/fsutil"
	"github.com/amperelab/cellkit/internal/ingest"
)

// fakeConverter writes an executable shell script standing in for the
// external conversion utility.
func fakeConverter(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script converter stub needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-mdb-export")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func containerFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.res")
	require.NoError(t, os.WriteFile(path, []byte("fake container body"), 0o644))
	return path
}

func TestAdapterConvertsAndReads(t *testing.T) {
	tool := fakeConverter(t, `cat <<CSV
Test_Time,Voltage,Current,Step_Index
0.0,3.2,0.0,1
1.0,3.45,1.5,2
CSV
`)
	tempDir := t.TempDir()
	src := containerFixture(t)

	a := New(Options{Tool: tool, TempDir: tempDir})
	require.NoError(t, a.Open(context.Background(), src))

	rec, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Index)
	assert.Equal(t, 3.2, rec.Values["Voltage"])

	rec, err = a.Next()
	require.NoError(t, err)
	assert.Equal(t, 1.5, rec.Values["Current"])
	assert.Equal(t, 2.0, rec.Values["Step_Index"])

	_, err = a.Next()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, a.Close())

	// The staging copy is removed with the working directory.
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdapterConverterFailure(t *testing.T) {
	tool := fakeConverter(t, `echo "Couldn't open database file" >&2
exit 1
`)
	tempDir := t.TempDir()

	a := New(Options{Tool: tool, TempDir: tempDir})
	err := a.Open(context.Background(), containerFixture(t))

	var uf *cellerr.UnsupportedFormatError
	require.ErrorAs(t, err, &uf)
	assert.Contains(t, uf.Diagnostic, "Couldn't open database file")

	// Failed opens must not leak the working directory.
	entries, readErr := os.ReadDir(tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestAdapterCancellation(t *testing.T) {
	tool := fakeConverter(t, "sleep 10\n")
	tempDir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	a := New(Options{Tool: tool, TempDir: tempDir})
	err := a.Open(ctx, containerFixture(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	entries, readErr := os.ReadDir(tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestAdapterConverterMissing(t *testing.T) {
	tempDir := t.TempDir()

	a := New(Options{Tool: "cellkit-no-such-converter", TempDir: tempDir})
	err := a.Open(context.Background(), containerFixture(t))

	// Tool invocation failures, missing tool included, fail the file as
	// an unsupported format with the tool named in the diagnostic.
	var uf *cellerr.UnsupportedFormatError
	require.ErrorAs(t, err, &uf)
	assert.Contains(t, uf.Diagnostic, `"cellkit-no-such-converter" not found`)
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.Equal(t, "unsupported_format", cellerr.Class(err))

	entries, readErr := os.ReadDir(tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestAdapterMissingSource(t *testing.T) {
	tool := fakeConverter(t, "exit 0\n")

	a := New(Options{Tool: tool, TempDir: t.TempDir()})
	err := a.Open(context.Background(), filepath.Join(t.TempDir(), "absent.res"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staging")
}

func TestAdapterEmptyConverterOutput(t *testing.T) {
	tool := fakeConverter(t, "exit 0\n")

	a := New(Options{Tool: tool, TempDir: t.TempDir()})
	err := a.Open(context.Background(), containerFixture(t))

	var uf *cellerr.UnsupportedFormatError
	require.ErrorAs(t, err, &uf)
	assert.Contains(t, uf.Diagnostic, "no header row")
}

// Staging goes through the ingest filesystem seam, not the os package. With
// an in-memory filesystem the working copy only ever exists in memory, the
// converter is handed its path, and cleanup removes it again.
func TestAdapterStagesThroughSeam(t *testing.T) {
	argFile := filepath.Join(t.TempDir(), "converter-arg")
	tool := fakeConverter(t, `echo "$1" > `+argFile+`
exit 0
`)

	mem := fsutil.NewMemoryFileSystem()
	require.NoError(t, mem.WriteFile("/data/run.res", []byte("fake container body"), 0o644))
	prev := ingest.FS
	ingest.FS = mem
	t.Cleanup(func() { ingest.FS = prev })

	a := New(Options{Tool: tool, TempDir: "/scratch"})
	err := a.Open(context.Background(), "/data/run.res")

	// Empty converter output still fails the file, but only after staging
	// succeeded entirely inside the memory filesystem.
	var uf *cellerr.UnsupportedFormatError
	require.ErrorAs(t, err, &uf)
	assert.Contains(t, uf.Diagnostic, "no header row")

	raw, readErr := os.ReadFile(argFile)
	require.NoError(t, readErr)
	workCopy := strings.TrimSpace(string(raw))
	assert.True(t, strings.HasPrefix(workCopy, "/scratch/"), "converter ran on the staged copy: %s", workCopy)

	// The staged copy is gone after the failed open; the source survives.
	_, err = mem.ReadFile(workCopy)
	assert.Error(t, err)
	_, err = mem.ReadFile("/data/run.res")
	assert.NoError(t, err)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	a := New(Options{})
	assert.Equal(t, DefaultTool, a.opts.Tool)
	assert.Equal(t, measurementTable, a.opts.Table)
}
