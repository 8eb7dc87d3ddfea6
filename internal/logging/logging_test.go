package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineHandlerFormatsAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewCLI(&buf, slog.LevelInfo).With("image", "lab")
	logger.WithGroup("stage").Info("mounted image", "mount_point", "/Volumes/Mac OS X", "error", errors.New("boom"))

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "INFO "), line)
	require.Contains(t, line, "| mounted image")
	require.Contains(t, line, "image=lab")
	require.Contains(t, line, `stage.mount_point="/Volumes/Mac OS X"`)
	require.Contains(t, line, "stage.error=boom")
}

func TestLineHandlerKeepsGroupOfEarlierAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewCLI(&buf, slog.LevelInfo).With("run", "r1").WithGroup("radmind").With("phase", "fsdiff").WithGroup("exit")
	logger.Info("phase failed", "code", 2)

	line := buf.String()
	require.Contains(t, line, " run=r1")
	require.Contains(t, line, " radmind.phase=fsdiff")
	require.Contains(t, line, " radmind.exit.code=2")
	require.NotContains(t, line, "exit.phase")
}

func TestLineHandlerRespectsLevel(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	level.Set(slog.LevelWarn)

	var buf bytes.Buffer
	logger := NewCLI(&buf, &level)
	logger.Info("hidden")
	require.Empty(t, buf.String())

	level.Set(slog.LevelDebug)
	logger.Debug("shown")
	require.Contains(t, buf.String(), "DEBUG")
}

func TestOpenOutputWritesFileAndConsole(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "run.log")
	var console bytes.Buffer

	out, err := OpenOutput(&console, &FileOptions{Path: path})
	require.NoError(t, err)

	NewCLI(out.Writer, nil).Info("BEGIN IMAGING")
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "BEGIN IMAGING")
	require.Contains(t, console.String(), "BEGIN IMAGING")
}

func TestOpenOutputConsoleOnly(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer
	out, err := OpenOutput(&console, nil)
	require.NoError(t, err)
	require.NoError(t, out.Close())
	require.Same(t, &console, out.Writer.(*bytes.Buffer))
}

func TestOpenOutputUnwritableDestination(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := OpenOutput(&bytes.Buffer{}, &FileOptions{Path: filepath.Join(blocker, "run.log")})
	require.Error(t, err)
}

func TestTailLinesSkipsBlankLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "imaging_lapply.log")
	content := "one\n\ntwo\nthree\n   \nfour\nfive\nsix\n\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	lines, err := TailLines(path, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"two", "three", "four", "five", "six"}, lines)
}

func TestTailLinesMissingFile(t *testing.T) {
	t.Parallel()

	_, err := TailLines(filepath.Join(t.TempDir(), "missing.log"), 5)
	require.ErrorIs(t, err, os.ErrNotExist)
}
