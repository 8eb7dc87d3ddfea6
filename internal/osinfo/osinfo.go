// Package osinfo reads the version of the macOS system installed on a volume.
package osinfo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/cochaviz/automagic/internal/build"
	"github.com/cochaviz/automagic/internal/command"
)

const (
	defaultsBin       = "defaults"
	systemVersionPath = "System/Library/CoreServices/SystemVersion"
)

var (
	ErrVersion = errors.New("could not read the system version")

	buildPattern = regexp.MustCompile(`^[0-9]+[A-Z][0-9]+[a-z]?$`)
)

var _ build.VersionReader = (*Reader)(nil)

// Reader reads SystemVersion.plist with defaults(1).
type Reader struct {
	Runner command.Runner
}

// ProductVersion returns the product version, such as 10.9.2, and build, such as
// 13C64, of the system installed under root.
func (r *Reader) ProductVersion(ctx context.Context, root string) (string, string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrVersion, err)
	}
	plist := filepath.Join(abs, systemVersionPath)

	version, err := r.read(ctx, plist, "ProductVersion")
	if err != nil {
		return "", "", err
	}
	if _, err := semver.NewVersion(version); err != nil {
		return "", "", fmt.Errorf("%w: ProductVersion %q: %w", ErrVersion, version, err)
	}

	build, err := r.read(ctx, plist, "ProductBuildVersion")
	if err != nil {
		return "", "", err
	}
	if !buildPattern.MatchString(build) {
		return "", "", fmt.Errorf("%w: unexpected ProductBuildVersion %q", ErrVersion, build)
	}
	return version, build, nil
}

func (r *Reader) read(ctx context.Context, plist, key string) (string, error) {
	runner := r.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}
	out, err := command.Output(ctx, runner, command.Cmd{Name: defaultsBin, Args: []string{"read", plist, key}})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrVersion, key, err)
	}
	if out == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrVersion, key)
	}
	return out, nil
}
