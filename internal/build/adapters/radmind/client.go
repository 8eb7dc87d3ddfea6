// Package radmind runs the radmind client tools against the volume mounted at the
// working directory.
package radmind

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cochaviz/automagic/internal/build"
	"github.com/cochaviz/automagic/internal/command"
	"github.com/cochaviz/automagic/internal/logging"
)

const (
	DefaultKtcheck    = "/usr/local/bin/ktcheck"
	DefaultFsdiff     = "/usr/local/bin/fsdiff"
	DefaultLapply     = "/usr/local/bin/lapply"
	DefaultRadmindDir = "./private/var/radmind/"
	DefaultPort       = 6223
	DefaultAuthLevel  = 2
)

var _ build.SyncClient = (*Client)(nil)

// Client runs ktcheck, fsdiff and lapply. Relative paths resolve against the working
// directory, which is expected to be the root of the volume being populated.
type Client struct {
	Runner command.Runner
	Logger *slog.Logger

	Ktcheck    string
	Fsdiff     string
	Lapply     string
	RadmindDir string
	Port       int
	AuthLevel  int

	Now func() time.Time
}

// CheckCatalog updates the command file and transcripts from server. Exit status 1
// means differences were found and is not an error.
func (c *Client) CheckCatalog(ctx context.Context, cert, server, commandFile, logFile string) error {
	if err := touch(commandFile); err != nil {
		return &PhaseError{Kind: ErrCatalogCheck, Phase: "ktcheck", Err: err}
	}

	args := []string{
		"-c", "sha1",
		"-C",
		"-D", c.radmindDir(),
		"-e", "x_ktcheck",
		"-h", server,
		"-i",
		"-I",
		"-K", commandFile,
		"-p", strconv.Itoa(c.port()),
		"-w", strconv.Itoa(c.authLevel()),
		"-y", cert,
		"-z", cert,
	}
	code, err := c.run(ctx, orDefault(c.Ktcheck, DefaultKtcheck), args, logFile)
	if err != nil {
		return &PhaseError{Kind: ErrCatalogCheck, Phase: "ktcheck", LogFile: logFile, Err: err}
	}
	if code > 1 {
		return &PhaseError{Kind: ErrCatalogCheck, Phase: "ktcheck", ExitCode: code, LogFile: logFile}
	}
	if code == 1 {
		c.logger().Debug("ktcheck found differences")
	}
	return nil
}

// ComputeDiff writes the differences between the volume and the command file to
// outFile, replacing any earlier output.
func (c *Client) ComputeDiff(ctx context.Context, commandFile, outFile, logFile string) error {
	if err := os.MkdirAll(filepath.Dir(outFile), 0o755); err != nil {
		return &PhaseError{Kind: ErrDiffCompute, Phase: "fsdiff", Err: err}
	}
	if err := os.Remove(outFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &PhaseError{Kind: ErrDiffCompute, Phase: "fsdiff", Err: err}
	}

	args := []string{"-A", "-c", "sha1", "-K", commandFile, "-I", "-%", "-o", outFile, "."}
	code, err := c.run(ctx, orDefault(c.Fsdiff, DefaultFsdiff), args, logFile)
	if err != nil {
		return &PhaseError{Kind: ErrDiffCompute, Phase: "fsdiff", LogFile: logFile, Err: err}
	}
	if code != 0 {
		return &PhaseError{Kind: ErrDiffCompute, Phase: "fsdiff", ExitCode: code, LogFile: logFile}
	}
	return nil
}

// CopyDiff copies the fsdiff output to where lapply reads it from.
func (c *Client) CopyDiff(src, dst string) (err error) {
	defer func() {
		if err != nil {
			err = &PhaseError{Kind: ErrCopyDiff, Phase: "copy", Err: fmt.Errorf("copy %s to %s: %w", src, dst, err)}
		}
	}()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ApplyDiff applies the transcript in inFile to the volume.
func (c *Client) ApplyDiff(ctx context.Context, cert, server, inFile, commandFile, logFile string) error {
	if info, err := os.Stat(inFile); err != nil || !info.Mode().IsRegular() {
		return &PhaseError{Kind: ErrApply, Phase: "lapply", Err: fmt.Errorf("invalid input file %q", inFile)}
	}

	args := []string{
		"-c", "sha1",
		"-C",
		"-e", "x_lapply",
		"-F",
		"-i",
		"-I",
		"-h", server,
		"-p", strconv.Itoa(c.port()),
		"-w", strconv.Itoa(c.authLevel()),
		"-y", cert,
		"-z", cert,
		inFile,
	}
	code, err := c.run(ctx, orDefault(c.Lapply, DefaultLapply), args, logFile)
	if err != nil {
		return &PhaseError{Kind: ErrApply, Phase: "lapply", LogFile: logFile, Err: err}
	}
	if code != 0 {
		return &PhaseError{Kind: ErrApply, Phase: "lapply", ExitCode: code, LogFile: logFile}
	}
	return nil
}

// run executes name with its output written to logFile, or discarded without one.
func (c *Client) run(ctx context.Context, name string, args []string, logFile string) (int, error) {
	var out io.Writer = io.Discard
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return 0, err
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		out = f
	}

	result, err := c.runner().Run(ctx, command.Cmd{Name: name, Args: args, Output: out})
	if err != nil {
		return 0, err
	}
	return result.ExitCode, nil
}

func (c *Client) runner() command.Runner {
	if c.Runner != nil {
		return c.Runner
	}
	return command.ExecRunner{Logger: c.Logger}
}

func (c *Client) logger() *slog.Logger {
	return logging.Ensure(c.Logger).With("component", "radmind")
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Client) radmindDir() string {
	return orDefault(c.RadmindDir, DefaultRadmindDir)
}

func (c *Client) port() int {
	if c.Port > 0 {
		return c.Port
	}
	return DefaultPort
}

func (c *Client) authLevel() int {
	if c.AuthLevel > 0 {
		return c.AuthLevel
	}
	return DefaultAuthLevel
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

// touch creates path and its parent directories, or updates its times if it exists.
func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	now := time.Now()
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return os.Chtimes(path, now, now)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chtimes(path, now, now)
}
