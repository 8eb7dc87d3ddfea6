package build

import (
	"context"

	"github.com/cochaviz/automagic/internal/artifacts"
)

// DiskImage is a handle on one disk image and its mount state.
type DiskImage interface {
	Path() string
	Name() string
	DiskID() string
	MountPoint() string
	Mounted() bool

	Attach(ctx context.Context) error
	Detach(ctx context.Context, force bool) error
	ForceDetachMountPoint(ctx context.Context) error
	EnableOwnership(ctx context.Context) error
	Clean(ctx context.Context) error
	Rename(ctx context.Context, label string) error
	Bless(ctx context.Context, label string) error
	Convert(ctx context.Context, format, outfile string) (string, error)
	Scan(ctx context.Context) error
}

// ImageProvider makes new sparse images or opens existing ones.
type ImageProvider interface {
	CreateImage(ctx context.Context, name, volumeLabel, size string) (DiskImage, error)
	OpenImage(path string) (DiskImage, error)
}

// SyncClient populates the volume mounted at the working directory from a radmind
// server. Relative paths resolve against the working directory.
type SyncClient interface {
	CheckCatalog(ctx context.Context, cert, server, commandFile, logFile string) error
	ComputeDiff(ctx context.Context, commandFile, outFile, logFile string) error
	CopyDiff(src, dst string) error
	ApplyDiff(ctx context.Context, cert, server, inFile, commandFile, logFile string) error
	RunPostMaintenance(ctx context.Context, diskLabel string) error
}

// VersionReader reads the product version and build of the system installed under root.
type VersionReader interface {
	ProductVersion(ctx context.Context, root string) (version, build string, err error)
}

// ArtifactRecorder keeps a record of every produced image.
type ArtifactRecorder interface {
	Record(record artifacts.Record) (artifacts.Record, error)
}
