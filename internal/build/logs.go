package build

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/cochaviz/automagic/internal/logging"
)

// phaseLogs locates the logs written by the sync phases of one image and keeps a
// compressed copy of the ones that failed.
type phaseLogs struct {
	mountPoint string
	tempDir    string
	image      string
	now        func() time.Time
}

func (l phaseLogs) path(phase string) string {
	return filepath.Join(l.mountPoint, radmindLogDir, "imaging_"+phase+".log")
}

// report logs the tail of the phase log and archives it next to the temporary images.
func (l phaseLogs) report(phase string, logger *slog.Logger) {
	src := l.path(phase)
	lines, err := logging.TailLines(src, logTailLines)
	if err != nil {
		logger.Debug("phase log unavailable", "phase", phase, "path", src, "error", err)
		return
	}
	if len(lines) > 0 {
		logger.Error(fmt.Sprintf("last %d lines of %s", len(lines), src))
		for _, line := range lines {
			logger.Error("    " + line)
		}
	}

	dst := filepath.Join(l.tempDir, fmt.Sprintf("%s_%s_%s.log.gz", l.image, phase, l.now().Format("20060102T150405")))
	if err := archiveLog(src, dst); err != nil {
		logger.Warn("could not archive phase log", "phase", phase, "error", err)
		return
	}
	logger.Info("archived phase log", "phase", phase, "archive", dst)
}

func archiveLog(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := gzip.NewWriter(out)
	zw.Name = filepath.Base(src)
	if _, err := io.Copy(zw, in); err != nil {
		return err
	}
	return zw.Close()
}
