// Package hdiutil drives macOS disk images through hdiutil, diskutil, bless and asr.
package hdiutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cochaviz/automagic/internal/build"
	"github.com/cochaviz/automagic/internal/command"
	"github.com/cochaviz/automagic/internal/logging"
)

const (
	hdiutilBin  = "hdiutil"
	diskutilBin = "diskutil"
	blessBin    = "/usr/sbin/bless"
	asrBin      = "asr"
	mountBin    = "mount"
	rmBin       = "rm"

	// DefaultSize is the maximum size of a new sparse image.
	DefaultSize = "200g"
	// DefaultVolumesRoot is where macOS mounts attached volumes.
	DefaultVolumesRoot = "/Volumes/"
)

var (
	_ build.DiskImage     = (*Image)(nil)
	_ build.ImageProvider = (*Driver)(nil)
)

// Driver creates and opens images and carries the settings shared by their operations.
type Driver struct {
	Runner command.Runner
	Logger *slog.Logger

	// PollAttempts and PollInterval bound the wait for a device to show up in the
	// mount table after attach or rename.
	PollAttempts int
	PollInterval time.Duration
	// VolumesRoot guards Clean against removing anything outside mounted volumes.
	VolumesRoot string
	Sleep       func(time.Duration)
}

func (d *Driver) logger() *slog.Logger {
	if d != nil {
		return logging.Ensure(d.Logger)
	}
	return slog.Default()
}

func (d *Driver) runner() command.Runner {
	if d.Runner != nil {
		return d.Runner
	}
	return command.ExecRunner{Logger: d.Logger}
}

func (d *Driver) sleep(dur time.Duration) {
	if d.Sleep != nil {
		d.Sleep(dur)
		return
	}
	time.Sleep(dur)
}

func (d *Driver) volumesRoot() string {
	if d.VolumesRoot != "" {
		return d.VolumesRoot
	}
	return DefaultVolumesRoot
}

// Image is the handle of one disk image. It is not safe for concurrent use.
type Image struct {
	driver *Driver

	path       string
	name       string
	diskID     string
	mountPoint string
	mounted    bool
}

// Create makes a blank sparse image named name in the working directory, with a volume
// labelled volumeLabel that may grow up to size.
func (d *Driver) Create(ctx context.Context, name, volumeLabel, size string) (*Image, error) {
	if name == "" || volumeLabel == "" {
		return nil, newError(ErrCreation, name, "name and volume label are required", nil)
	}
	if size == "" {
		size = DefaultSize
	}

	result, err := d.runner().Run(ctx, command.Cmd{
		Name: hdiutilBin,
		Args: []string{"create", "-size", size, "-type", "SPARSE", "-ov", "-fs", "HFS+J", "-volname", volumeLabel, name},
	})
	if err != nil {
		return nil, newError(ErrCreation, name, "", err)
	}
	path := parseCreated(result.Stdout)
	if !result.Success() || path == "" {
		return nil, newError(ErrCreation, name, strings.TrimSpace(result.Stdout+" "+result.Stderr), nil)
	}

	d.logger().Debug("created sparse image", "path", path, "volume", volumeLabel, "size", size)
	return d.Open(path)
}

// Open returns an unmounted handle for an existing image file.
func (d *Driver) Open(path string) (*Image, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, newError(ErrInvalidImage, path, "", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, newError(ErrInvalidImage, path, "invalid path specified", err)
	}
	if !info.Mode().IsRegular() {
		return nil, newError(ErrInvalidImage, path, "not a regular file", nil)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, newError(ErrInvalidImage, path, "image is not readable", err)
	}
	f.Close()

	return &Image{
		driver: d,
		path:   abs,
		name:   strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
	}, nil
}

// CreateImage implements build.ImageProvider.
func (d *Driver) CreateImage(ctx context.Context, name, volumeLabel, size string) (build.DiskImage, error) {
	img, err := d.Create(ctx, name, volumeLabel, size)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// OpenImage implements build.ImageProvider.
func (d *Driver) OpenImage(path string) (build.DiskImage, error) {
	img, err := d.Open(path)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (i *Image) Path() string       { return i.path }
func (i *Image) Name() string       { return i.name }
func (i *Image) DiskID() string     { return i.diskID }
func (i *Image) MountPoint() string { return i.mountPoint }
func (i *Image) Mounted() bool      { return i.mounted }

func (i *Image) String() string {
	if !i.mounted {
		return fmt.Sprintf("image %s (not mounted)", i.name)
	}
	return fmt.Sprintf("image %s (path %s, disk %s, mounted at %s)", i.name, i.path, i.diskID, i.mountPoint)
}

// Attach mounts the image. It does nothing when the image is already mounted.
func (i *Image) Attach(ctx context.Context) error {
	if i.mounted {
		return nil
	}
	if _, err := os.Stat(i.path); err != nil {
		return newError(ErrAttach, i.name, "invalid image file specified", err)
	}

	result, err := i.driver.runner().Run(ctx, command.Cmd{Name: hdiutilBin, Args: []string{"attach", i.path}})
	if err != nil {
		return newError(ErrAttach, i.name, "", err)
	}
	if !result.Success() {
		return newError(ErrAttach, i.name, fmt.Sprintf("hdiutil exited with status %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)), nil)
	}
	disk := parseAttached(result.Stdout)
	if disk == "" {
		return newError(ErrAttach, i.name, "no device identifier in hdiutil output", nil)
	}

	mountPoint, err := i.driver.findMountPoint(ctx, disk)
	if err != nil {
		return newError(ErrMountPoint, i.name, "for "+disk, err)
	}

	i.diskID = disk
	i.mountPoint = mountPoint
	i.mounted = true
	i.driver.logger().Debug("attached image", "image", i.name, "disk", disk, "mount_point", mountPoint)
	return nil
}

// Detach unmounts the image, forcibly when force is set. It does nothing when the image
// is not mounted.
func (i *Image) Detach(ctx context.Context, force bool) error {
	if !i.mounted {
		return nil
	}
	if err := i.driver.detach(ctx, i.diskID, force); err != nil {
		return newError(ErrDetach, i.name, "", err)
	}
	i.revert()
	return nil
}

// ForceDetachMountPoint forcibly unmounts the disk behind the image's mount point
// without touching the handle's state. It is the last resort when Detach fails.
func (i *Image) ForceDetachMountPoint(ctx context.Context) error {
	if i.mountPoint == "" {
		return newError(ErrDetach, i.name, "no mount point recorded", nil)
	}
	if err := i.driver.detach(ctx, i.mountPoint, true); err != nil {
		return newError(ErrDetach, i.name, "", err)
	}
	return nil
}

// EnableOwnership turns on file ownership for the mounted volume.
func (i *Image) EnableOwnership(ctx context.Context) error {
	if err := i.requireMounted(ErrOwnership); err != nil {
		return err
	}
	if !strings.HasPrefix(i.diskID, "/dev/") && !strings.HasPrefix(i.diskID, "/Volumes/") {
		return newError(ErrOwnership, i.name, "invalid disk "+i.diskID, nil)
	}
	if err := i.run(ctx, ErrOwnership, diskutilBin, "enableOwnership", i.diskID); err != nil {
		return err
	}
	return nil
}

// Clean removes everything on the mounted volume: visible entries first, then dot
// entries.
func (i *Image) Clean(ctx context.Context) error {
	if err := i.requireMounted(ErrClean); err != nil {
		return err
	}
	root := strings.TrimSuffix(i.driver.volumesRoot(), "/") + "/"
	if !strings.HasPrefix(i.mountPoint, root) {
		return newError(ErrClean, i.name, fmt.Sprintf("volume %s is not mounted in %s", i.mountPoint, root), nil)
	}

	entries, err := os.ReadDir(i.mountPoint)
	if err != nil {
		return newError(ErrClean, i.name, "", err)
	}
	var visible, hidden []string
	for _, entry := range entries {
		path := filepath.Join(i.mountPoint, entry.Name())
		if strings.HasPrefix(entry.Name(), ".") {
			hidden = append(hidden, path)
		} else {
			visible = append(visible, path)
		}
	}

	for _, pass := range [][]string{visible, hidden} {
		if len(pass) == 0 {
			continue
		}
		if err := i.run(ctx, ErrClean, rmBin, append([]string{"-rf"}, pass...)...); err != nil {
			return err
		}
	}
	return nil
}

// Rename relabels the mounted volume and follows it to its new mount point.
func (i *Image) Rename(ctx context.Context, label string) error {
	if err := i.requireMounted(ErrRename); err != nil {
		return err
	}
	if label == "" {
		return newError(ErrRename, i.name, "empty label", nil)
	}
	if err := i.run(ctx, ErrRename, diskutilBin, "rename", i.mountPoint, label); err != nil {
		return err
	}

	mountPoint, err := i.driver.findMountPoint(ctx, i.diskID)
	if err != nil {
		return newError(ErrRename, i.name, "volume renamed but not found again", err)
	}
	i.mountPoint = mountPoint
	i.name = label
	return nil
}

// Bless makes the mounted volume bootable. An empty label leaves the boot label unset.
func (i *Image) Bless(ctx context.Context, label string) error {
	if err := i.requireMounted(ErrBless); err != nil {
		return err
	}
	coreServices := filepath.Join(i.mountPoint, "System", "Library", "CoreServices")
	args := []string{
		"--folder", coreServices,
		"--file", filepath.Join(coreServices, "boot.efi"),
	}
	if label != "" {
		args = append(args, "--label", label)
	}
	return i.run(ctx, ErrBless, blessBin, args...)
}

// Convert writes a copy of the unmounted image in format to outfile and makes the copy
// the image's path. Without outfile the copy is written next to the source. The format
// may carry a zlib level suffix, as in "UDZO-9".
func (i *Image) Convert(ctx context.Context, format, outfile string) (string, error) {
	if format == "" {
		format = DefaultFormat
	}
	base, level, err := parseFormat(format)
	if err != nil {
		return "", newError(ErrInvalidFormat, i.name, "", err)
	}
	if i.mounted {
		return "", newError(ErrConvert, i.name, "", ErrMounted)
	}

	if outfile == "" {
		outfile = strings.TrimSuffix(i.path, filepath.Ext(i.path))
	}
	result := outfile
	if filepath.Ext(outfile) == "" {
		result = outfile + extensionFor(base)
	}

	args := []string{"convert", i.path, "-format", base}
	if level > 0 {
		args = append(args, "-imagekey", fmt.Sprintf("zlib-level=%d", level))
	}
	args = append(args, "-o", outfile)
	if err := i.run(ctx, ErrConvert, hdiutilBin, args...); err != nil {
		return "", err
	}

	i.path = result
	return result, nil
}

// Scan prepares the unmounted image for restoring with asr.
func (i *Image) Scan(ctx context.Context) error {
	if i.mounted {
		return newError(ErrScan, i.name, "", ErrMounted)
	}
	if info, err := os.Stat(i.path); err != nil || !info.Mode().IsRegular() {
		return newError(ErrScan, i.name, "invalid image file "+i.path, err)
	}
	return i.run(ctx, ErrScan, asrBin, "imagescan", "--source", i.path)
}

func (i *Image) requireMounted(kind error) error {
	if !i.mounted {
		return newError(kind, i.name, "", ErrNotMounted)
	}
	return nil
}

func (i *Image) run(ctx context.Context, kind error, name string, args ...string) error {
	result, err := i.driver.runner().Run(ctx, command.Cmd{Name: name, Args: args})
	if err != nil {
		return newError(kind, i.name, "", err)
	}
	if !result.Success() {
		return newError(kind, i.name, exitMessage(name, result), nil)
	}
	return nil
}

func (i *Image) revert() {
	i.diskID = ""
	i.mountPoint = ""
	i.mounted = false
}

// detach unmounts a /dev/ device with hdiutil or a /Volumes/ path with diskutil.
func (d *Driver) detach(ctx context.Context, target string, force bool) error {
	var cmd command.Cmd
	switch {
	case strings.HasPrefix(target, "/dev/"):
		args := []string{"detach", target}
		if force {
			args = append(args, "-force")
		}
		cmd = command.Cmd{Name: hdiutilBin, Args: args}
	case strings.HasPrefix(target, "/Volumes/"):
		args := []string{"unmountDisk"}
		if force {
			args = append(args, "force")
		}
		cmd = command.Cmd{Name: diskutilBin, Args: append(args, target)}
	default:
		return fmt.Errorf("invalid disk %q: must be a /dev/ device or a /Volumes/ path", target)
	}

	result, err := d.runner().Run(ctx, cmd)
	if err != nil {
		return err
	}
	if !result.Success() {
		return errors.New(exitMessage(cmd.Name, result))
	}
	return nil
}

// findMountPoint polls the mount table until disk shows up.
func (d *Driver) findMountPoint(ctx context.Context, disk string) (string, error) {
	if !strings.HasPrefix(disk, "/dev/") {
		return "", fmt.Errorf("invalid disk %q: must be in /dev/diskN format", disk)
	}

	attempts := d.PollAttempts
	if attempts <= 0 {
		attempts = 10
	}
	interval := d.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	for attempt := 1; ; attempt++ {
		out, err := command.Output(ctx, d.runner(), command.Cmd{Name: mountBin})
		if err != nil {
			return "", err
		}
		if mountPoint := parseMountTable(out, disk); mountPoint != "" {
			return mountPoint, nil
		}
		if attempt >= attempts {
			return "", fmt.Errorf("%s not in mount table after %d attempts", disk, attempts)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		d.sleep(interval)
	}
}

func exitMessage(name string, result command.Result) string {
	msg := fmt.Sprintf("%s exited with status %d", filepath.Base(name), result.ExitCode)
	if detail := strings.TrimSpace(result.Stderr); detail != "" {
		msg += ": " + detail
	}
	return msg
}
