// Package config resolves run settings and image specifications from built-in
// defaults, a configuration file and command line overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	GlobalSection = "Global"

	DefaultImageSize        = "200g"
	DefaultRadmindPort      = 6223
	DefaultRadmindAuthLevel = 2
	DefaultConvertFormat    = "UDZO-9"
)

// RunSettings apply to every image of a run.
type RunSettings struct {
	TempDir             string
	OutputDir           string
	SyncServer          string
	PersistImages       bool
	PersistFailedImages bool

	ImageSize        string
	RadmindPort      int
	RadmindAuthLevel int
	ConvertFormat    string
}

// Defaults returns the settings used when neither the file nor the command line sets a
// value.
func Defaults() RunSettings {
	return RunSettings{
		ImageSize:        DefaultImageSize,
		RadmindPort:      DefaultRadmindPort,
		RadmindAuthLevel: DefaultRadmindAuthLevel,
		ConvertFormat:    DefaultConvertFormat,
	}
}

// Overrides is one layer of settings. Zero values and nil pointers leave the value
// underneath untouched.
type Overrides struct {
	TempDir             string
	OutputDir           string
	SyncServer          string
	PersistImages       *bool
	PersistFailedImages *bool
	ImageSize           string
	RadmindPort         int
	RadmindAuthLevel    int
	ConvertFormat       string
}

// Merge applies layers over base in order; later layers win.
func Merge(base RunSettings, layers ...Overrides) RunSettings {
	merged := base
	for _, o := range layers {
		if o.TempDir != "" {
			merged.TempDir = o.TempDir
		}
		if o.OutputDir != "" {
			merged.OutputDir = o.OutputDir
		}
		if o.SyncServer != "" {
			merged.SyncServer = o.SyncServer
		}
		if o.PersistImages != nil {
			merged.PersistImages = *o.PersistImages
		}
		if o.PersistFailedImages != nil {
			merged.PersistFailedImages = *o.PersistFailedImages
		}
		if o.ImageSize != "" {
			merged.ImageSize = o.ImageSize
		}
		if o.RadmindPort != 0 {
			merged.RadmindPort = o.RadmindPort
		}
		if o.RadmindAuthLevel != 0 {
			merged.RadmindAuthLevel = o.RadmindAuthLevel
		}
		if o.ConvertFormat != "" {
			merged.ConvertFormat = o.ConvertFormat
		}
	}
	return merged
}

// Resolve checks that the settings are complete and the directories exist, and returns
// them with absolute directories without trailing slashes.
func (s RunSettings) Resolve() (RunSettings, error) {
	var problems []string
	var err error

	if s.TempDir, err = existingDir("temporary", s.TempDir); err != nil {
		problems = append(problems, err.Error())
	}
	if s.OutputDir, err = existingDir("output", s.OutputDir); err != nil {
		problems = append(problems, err.Error())
	}
	if strings.TrimSpace(s.SyncServer) == "" {
		problems = append(problems, "no radmind server given")
	}
	if s.ImageSize == "" {
		s.ImageSize = DefaultImageSize
	}
	if s.RadmindPort <= 0 || s.RadmindPort > 65535 {
		problems = append(problems, fmt.Sprintf("invalid radmind port %d", s.RadmindPort))
	}
	if s.RadmindAuthLevel < 0 {
		problems = append(problems, fmt.Sprintf("invalid radmind authentication level %d", s.RadmindAuthLevel))
	}
	if s.ConvertFormat == "" {
		s.ConvertFormat = DefaultConvertFormat
	}

	if len(problems) > 0 {
		return s, &ValidationError{Section: GlobalSection, Problems: problems}
	}
	return s, nil
}

func existingDir(kind, dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("no %s directory given", kind)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return dir, fmt.Errorf("invalid %s directory specified: %q", kind, dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir, fmt.Errorf("invalid %s directory specified: %q: %v", kind, dir, err)
	}
	return strings.TrimRight(abs, "/"), nil
}

// ImageSpec describes one image to produce. VolumeLabel may contain $VERSION and
// $BUILD, replaced once the installed system is known.
type ImageSpec struct {
	Name            string
	VolumeLabel     string
	CertificatePath string
	// StartingImage is an optional sparse image to resume from.
	StartingImage string
}

// Resolve checks the specification and returns it with absolute paths.
func (s ImageSpec) Resolve() (ImageSpec, error) {
	var problems []string

	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "no image name given")
	}
	if strings.TrimSpace(s.VolumeLabel) == "" {
		problems = append(problems, "no bootable volume name given")
	}
	if s.CertificatePath == "" {
		problems = append(problems, "no certificate given")
	} else if info, err := os.Stat(s.CertificatePath); err != nil || !info.Mode().IsRegular() {
		problems = append(problems, fmt.Sprintf("invalid certificate specified: %q", s.CertificatePath))
	} else if abs, err := filepath.Abs(s.CertificatePath); err == nil {
		s.CertificatePath = abs
	}
	if s.StartingImage != "" {
		if abs, err := filepath.Abs(s.StartingImage); err == nil {
			s.StartingImage = abs
		}
	}

	if len(problems) > 0 {
		return s, &ValidationError{Section: s.Name, Problems: problems}
	}
	return s, nil
}

// SubstituteLabel replaces $VERSION and $BUILD in label.
func SubstituteLabel(label, version, build string) string {
	return strings.NewReplacer("$VERSION", version, "$BUILD", build).Replace(label)
}

// Select returns only the image called name.
func Select(images []ImageSpec, name string) ([]ImageSpec, error) {
	for _, img := range images {
		if img.Name == name {
			return []ImageSpec{img}, nil
		}
	}
	return nil, fmt.Errorf("image %q is not configured", name)
}
