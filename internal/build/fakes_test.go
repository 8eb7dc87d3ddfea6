package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cochaviz/automagic/internal/artifacts"
)

// journal records operations across every fake so tests can check their order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(prefix string) int {
	n := 0
	for _, e := range j.all() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

var errInjected = errors.New("injected failure")

type fakeImage struct {
	journal    *journal
	path       string
	name       string
	diskID     string
	mountPoint string
	mounted    bool

	mountDir string
	fail     map[string]error
	// detachFailures is the number of Detach calls that fail before one succeeds.
	// Negative means every call fails.
	detachFailures int
}

var _ DiskImage = (*fakeImage)(nil)

func (f *fakeImage) Path() string       { return f.path }
func (f *fakeImage) Name() string       { return f.name }
func (f *fakeImage) DiskID() string     { return f.diskID }
func (f *fakeImage) MountPoint() string { return f.mountPoint }
func (f *fakeImage) Mounted() bool      { return f.mounted }

func (f *fakeImage) op(name string, args ...any) error {
	entry := name
	if len(args) > 0 {
		entry += fmt.Sprint(args...)
	}
	f.journal.add("%s %s", f.name, entry)
	return f.fail[name]
}

func (f *fakeImage) Attach(context.Context) error {
	if f.mounted {
		return nil
	}
	if err := f.op("attach"); err != nil {
		return err
	}
	f.diskID = "/dev/disk2s2"
	f.mountPoint = f.mountDir
	f.mounted = true
	return nil
}

func (f *fakeImage) Detach(_ context.Context, force bool) error {
	if !f.mounted {
		return nil
	}
	if err := f.op("detach", " force=", force); err != nil {
		return err
	}
	if f.detachFailures != 0 {
		f.detachFailures--
		return errInjected
	}
	f.diskID, f.mountPoint, f.mounted = "", "", false
	return nil
}

func (f *fakeImage) ForceDetachMountPoint(context.Context) error {
	return f.op("force-detach-mount-point")
}

func (f *fakeImage) EnableOwnership(context.Context) error { return f.op("ownership") }
func (f *fakeImage) Clean(context.Context) error           { return f.op("clean") }

func (f *fakeImage) Rename(_ context.Context, label string) error {
	if err := f.op("rename", " ", label); err != nil {
		return err
	}
	f.name = label
	return nil
}

func (f *fakeImage) Bless(_ context.Context, label string) error {
	return f.op("bless", " ", label)
}

func (f *fakeImage) Convert(_ context.Context, format, outfile string) (string, error) {
	if err := os.WriteFile(outfile, []byte("converted"), 0o644); err != nil {
		return "", err
	}
	// A failed conversion leaves its partial output behind.
	if err := f.op("convert", " ", format); err != nil {
		return "", err
	}
	f.path = outfile
	return outfile, nil
}

func (f *fakeImage) Scan(context.Context) error { return f.op("scan") }

type fakeProvider struct {
	journal *journal
	// images are handed out by image name; Create makes the backing file.
	images  map[string]*fakeImage
	openErr error
}

func (p *fakeProvider) CreateImage(_ context.Context, name, volumeLabel, size string) (DiskImage, error) {
	p.journal.add("%s create %s %s", name, volumeLabel, size)
	img, ok := p.images[name]
	if !ok {
		return nil, fmt.Errorf("no fake image %q", name)
	}
	if err := img.fail["create"]; err != nil {
		return nil, err
	}
	path, err := filepath.Abs(name + ".sparseimage")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte("sparse"), 0o644); err != nil {
		return nil, err
	}
	img.path = path
	return img, nil
}

func (p *fakeProvider) OpenImage(path string) (DiskImage, error) {
	p.journal.add("open %s", filepath.Base(path))
	if p.openErr != nil {
		return nil, p.openErr
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	img, ok := p.images[name]
	if !ok {
		return nil, fmt.Errorf("no fake image %q", name)
	}
	img.path = path
	return img, nil
}

type fakeSync struct {
	journal *journal
	fail    map[string]error
	// logLines are written to the phase log of a failing phase.
	logLines []string
}

var _ SyncClient = (*fakeSync)(nil)

func (s *fakeSync) phase(name, logFile string) error {
	cwd, _ := os.Getwd()
	s.journal.add("sync %s in %s", name, filepath.Base(cwd))
	err := s.fail[name]
	if err != nil && logFile != "" && len(s.logLines) > 0 {
		if mkErr := os.MkdirAll(filepath.Dir(logFile), 0o755); mkErr != nil {
			return mkErr
		}
		if wErr := os.WriteFile(logFile, []byte(strings.Join(s.logLines, "\n")+"\n"), 0o644); wErr != nil {
			return wErr
		}
	}
	return err
}

func (s *fakeSync) CheckCatalog(_ context.Context, _, _, _, logFile string) error {
	return s.phase("ktcheck", logFile)
}

func (s *fakeSync) ComputeDiff(_ context.Context, _, _, logFile string) error {
	return s.phase("fsdiff", logFile)
}

func (s *fakeSync) CopyDiff(_, _ string) error {
	return s.phase("copy", "")
}

func (s *fakeSync) ApplyDiff(_ context.Context, _, _, _, _, logFile string) error {
	return s.phase("lapply", logFile)
}

func (s *fakeSync) RunPostMaintenance(_ context.Context, label string) error {
	return s.phase("post-maintenance", "")
}

type fakeVersions struct {
	version, build string
	err            error
}

func (v fakeVersions) ProductVersion(context.Context, string) (string, string, error) {
	return v.version, v.build, v.err
}

type fakeRecorder struct {
	records []artifacts.Record
}

func (r *fakeRecorder) Record(rec artifacts.Record) (artifacts.Record, error) {
	rec.ID = fmt.Sprintf("record-%d", len(r.records)+1)
	r.records = append(r.records, rec)
	return rec, nil
}
