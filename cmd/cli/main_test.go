package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/automagic/internal/logging"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var levelVar slog.LevelVar
	root := newRootCommand(logging.Discard(), &levelVar, &sink{w: io.Discard})
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range tests {
		got, err := parseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseLogLevel("loud")
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	logger := logging.Discard()

	assert.Equal(t, 0, exitCode(logger, nil))
	assert.Equal(t, 1, exitCode(logger, errors.New("boom")))
	assert.Equal(t, 21, exitCode(logger, exitWith(21, errors.New("bless"))))
	assert.Equal(t, 130, exitCode(logger, context.Canceled))
}

func TestCheckConfigCommand(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "lab.pem")
	require.NoError(t, os.WriteFile(cert, nil, 0o644))
	path := filepath.Join(dir, "automagic.conf")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"[Global]",
		"tmp_dir = " + dir,
		"out_dir = " + dir,
		"rserver = radmind.example.edu",
		"[Lab]",
		"cert = " + cert,
		"volume = Lab $VERSION",
	}, "\n")), 0o644))

	out, err := execute(t, "--no-log", "check-config", path)
	require.NoError(t, err)
	assert.Equal(t, "Lab\tLab $VERSION\t"+cert+"\n", out)

	require.NoError(t, os.Remove(cert))
	_, err = execute(t, "-n", "check-config", path)
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 10, exit.code)
}

func TestHistoryCommand(t *testing.T) {
	out, err := execute(t, "-n", "history", "-o", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "no images\n", out)

	_, err = execute(t, "-n", "history")
	assert.Error(t, err)
}

func TestUnwritableLogFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := execute(t, "--log", filepath.Join(blocker, "automagic.log"), "history", "-o", t.TempDir())
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 3, exit.code)
}

func TestBuildFlags(t *testing.T) {
	t.Parallel()
	var levelVar slog.LevelVar
	root := newRootCommand(logging.Discard(), &levelVar, &sink{w: io.Discard})

	cmd, _, err := root.Find([]string{"build"})
	require.NoError(t, err)
	for _, name := range []string{"config", "interactive", "tmp-dir", "out-dir", "rserver", "persist", "persist-fail", "cert", "image", "volname", "sparse"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	for short, long := range map[string]string{"c": "config", "i": "interactive", "t": "tmp-dir", "o": "out-dir", "r": "rserver"} {
		flag := cmd.Flags().ShorthandLookup(short)
		require.NotNil(t, flag, short)
		assert.Equal(t, long, flag.Name)
	}
}
