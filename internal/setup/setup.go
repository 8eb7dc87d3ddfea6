package setup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

var ConfigDir = "/etc/automagic"

// MinOpenFiles is the open file limit radmind needs to walk a full system volume.
const MinOpenFiles = 2048

var configFiles = [...]string{
	filepath.Join(ConfigDir, "automagic.conf"),
	filepath.Join(ConfigDir, "automagic.toml"),
	filepath.Join(ConfigDir, "automagic.yaml"),
}

// ErrNotRoot is returned when the process lacks the privileges to attach and bless
// images.
var ErrNotRoot = errors.New("must be run as root")

var geteuid = unix.Geteuid

// RequireRoot fails unless the effective user is root.
func RequireRoot() error {
	if geteuid() != 0 {
		return ErrNotRoot
	}
	return nil
}

// RaiseFileLimit raises the soft limit on open files to at least limit, within the
// hard limit. It returns the limit in effect afterwards.
func RaiseFileLimit(limit uint64) (uint64, error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 0, fmt.Errorf("get open file limit: %w", err)
	}
	if rlim.Cur >= limit {
		return rlim.Cur, nil
	}

	previous := rlim.Cur
	target := limit
	if rlim.Max != unix.RLIM_INFINITY && target > rlim.Max {
		target = rlim.Max
	}
	rlim.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return previous, fmt.Errorf("set open file limit to %d: %w", target, err)
	}
	getLogger().Info("raised open file limit", "from", previous, "to", target)
	if target < limit {
		return target, fmt.Errorf("open file limit capped at %d by the hard limit", target)
	}
	return target, nil
}

// DefaultConfigFile returns the first configuration file present in ConfigDir, or ""
// when there is none.
func DefaultConfigFile() string {
	for _, file := range configFiles {
		if info, err := os.Stat(file); err == nil && info.Mode().IsRegular() {
			return file
		}
	}
	return ""
}
