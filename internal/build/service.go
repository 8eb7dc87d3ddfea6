package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cochaviz/automagic/internal/artifacts"
	"github.com/cochaviz/automagic/internal/config"
	"github.com/cochaviz/automagic/internal/logging"
	"github.com/cochaviz/automagic/internal/workdir"
)

const (
	// DefaultSettleDelay is the pause before blessing a freshly renamed volume.
	DefaultSettleDelay = 10 * time.Second
	// DefaultRetryDelay separates the attempts of the failure unmount.
	DefaultRetryDelay = 2 * time.Second

	unmountAttempts = 3
	logTailLines    = 5
)

// Paths inside the mounted volume, relative to its root.
const (
	CommandFile   = "private/var/radmind/client/command.K"
	DiffOutput    = "private/var/log/radmind/fsdiff_output.T"
	ApplyInput    = "private/var/log/radmind/lapply_input.T"
	radmindLogDir = "private/var/log/radmind"
)

// Service produces bootable images, one after the other, from their specifications.
type Service struct {
	Logger    *slog.Logger
	Images    ImageProvider
	Sync      SyncClient
	Versions  VersionReader
	Artifacts ArtifactRecorder

	SettleDelay time.Duration
	RetryDelay  time.Duration
	Sleep       func(time.Duration)
	Now         func() time.Time
}

// Run produces every image in order inside settings.TempDir. A failed image is released
// and disposed of before the next one starts, and never stops the run. The returned
// error is non-nil only when the run could not start or was interrupted.
func (s *Service) Run(ctx context.Context, settings config.RunSettings, images []config.ImageSpec) (Summary, error) {
	if s.Images == nil || s.Sync == nil || s.Versions == nil {
		return Summary{}, errors.New("build service is not fully configured")
	}

	summary := Summary{RunID: uuid.NewString(), Total: len(images)}
	logger := s.logger().With("run", summary.RunID)
	logger.Info("begin imaging", "images", len(images), "tmp_dir", settings.TempDir, "out_dir", settings.OutputDir)

	err := workdir.Locked(func() error {
		return workdir.Do(settings.TempDir, func() error {
			return s.runAll(ctx, settings, images, &summary, logger)
		})
	})
	if err != nil && !errors.Is(err, ErrInterrupted) {
		return summary, err
	}

	logger.Info(fmt.Sprintf("finished imaging (%d/%d)", summary.Succeeded, summary.Total))
	return summary, err
}

// runAll produces images until one is interrupted, releasing each failed image before
// moving on.
func (s *Service) runAll(ctx context.Context, settings config.RunSettings, images []config.ImageSpec, summary *Summary, logger *slog.Logger) error {
	var (
		pending     *leftover
		interrupted error
	)
	for _, spec := range images {
		if pending != nil {
			s.release(ctx, settings, pending, logger)
			pending = nil
		}
		if err := ctx.Err(); err != nil {
			interrupted = fmt.Errorf("%w: %w", ErrInterrupted, err)
			break
		}

		outcome, left := s.produce(ctx, settings, spec, summary.RunID, logger.With("image", spec.Name))
		summary.Outcomes = append(summary.Outcomes, outcome)
		if outcome.Succeeded() {
			summary.Succeeded++
		} else if left != nil {
			pending = left
		}
	}
	if pending != nil {
		s.release(ctx, settings, pending, logger)
	}
	return interrupted
}

// leftover is what a failed image leaves behind for release.
type leftover struct {
	img DiskImage
	// sparse is the file backing img; Convert moves img's path to the artifact.
	sparse string
	// artifact is the predicted output path once conversion was attempted.
	artifact string
	// stuck is set when the unmount retries already ran out.
	stuck bool
}

// produce runs every stage for one image. On failure it returns whatever the image left
// behind, if anything, so the caller can release it.
func (s *Service) produce(ctx context.Context, settings config.RunSettings, spec config.ImageSpec, runID string, logger *slog.Logger) (Outcome, *leftover) {
	outcome := Outcome{Image: spec.Name}
	var (
		img  DiskImage
		left leftover
	)
	fail := func(stage Stage, err error) (Outcome, *leftover) {
		outcome.Stage = stage
		outcome.Err = &StageError{Stage: stage, Image: spec.Name, Err: err}
		logger.Error("imaging failed", "stage", stage, "state", outcome.State, "error", err)
		if img == nil {
			return outcome, nil
		}
		left.img = img
		return outcome, &left
	}

	resolved, err := spec.Resolve()
	if err != nil {
		return fail(StageValidate, err)
	}
	logger.Info("processing image",
		"volume", resolved.VolumeLabel,
		"cert", resolved.CertificatePath,
		"sparse", resolved.StartingImage,
		"persist", settings.PersistImages,
		"persist_fail", settings.PersistFailedImages,
	)

	img, err = s.obtain(ctx, settings, resolved, logger)
	if err != nil {
		return fail(StageCreate, err)
	}
	outcome.State = StateCreated
	left.sparse = img.Path()

	if err := img.Attach(ctx); err != nil {
		return fail(StageAttach, err)
	}
	outcome.State = StateMounted
	logger.Info("mounted image", "mount_point", img.MountPoint(), "disk", img.DiskID())

	if err := img.EnableOwnership(ctx); err != nil {
		return fail(StageOwnership, err)
	}
	outcome.State = StateOwnershipEnabled

	if err := img.Clean(ctx); err != nil {
		return fail(StageClean, err)
	}
	outcome.State = StateCleaned
	logger.Info("volume cleaned")

	var version, build string
	err = workdir.Do(img.MountPoint(), func() error {
		var err error
		version, build, err = s.sync(ctx, settings, resolved, img.MountPoint(), &outcome, logger)
		return err
	})
	if err != nil {
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			return fail(stageErr.Stage, stageErr.Err)
		}
		return fail(StageCatalog, err)
	}

	label := config.SubstituteLabel(resolved.VolumeLabel, version, build)
	if img.Name() != label {
		logger.Info("renaming volume", "label", label)
		if err := img.Rename(ctx, label); err != nil {
			return fail(StageRename, err)
		}
	}
	outcome.State = StateLabeled

	s.sleep(s.settleDelay())
	if err := img.Bless(ctx, label); err != nil {
		return fail(StageBless, err)
	}
	outcome.State = StateBlessed

	if err := img.Detach(ctx, false); err != nil {
		logger.Warn("unmount failed, retrying forcibly", "error", err)
		if !s.failureUnmount(ctx, img, logger) {
			left.stuck = true
			return fail(StageUnmount, err)
		}
	}
	outcome.State = StateUnmounted

	created := s.now()
	target := filepath.Join(settings.OutputDir, ArtifactName(created, resolved.Name, version, build))
	left.artifact = target
	logger.Info("converting image", "format", settings.ConvertFormat, "target", target)
	artifact, err := img.Convert(ctx, settings.ConvertFormat, target)
	if err != nil {
		return fail(StageConvert, err)
	}
	left.artifact = artifact
	outcome.State = StateConverted

	if err := img.Scan(ctx); err != nil {
		return fail(StageScan, err)
	}
	outcome.State = StateArtifactScanned

	// The sparse image goes only once the artifact is known good.
	if !settings.PersistImages {
		if err := os.Remove(left.sparse); err != nil {
			return fail(StageRemoveSparse, err)
		}
		logger.Info("removed sparse image", "path", left.sparse)
	}

	if s.Artifacts != nil {
		_, err := s.Artifacts.Record(artifacts.Record{
			RunID:     runID,
			Image:     resolved.Name,
			Label:     label,
			Path:      artifact,
			Format:    settings.ConvertFormat,
			Version:   version,
			Build:     build,
			Server:    settings.SyncServer,
			CreatedAt: created,
		})
		if err != nil {
			logger.Warn("could not record artifact", "path", artifact, "error", err)
		}
	}

	outcome.State = StateDone
	outcome.Artifact = artifact
	logger.Info("image complete", "artifact", artifact)
	return outcome, nil
}

// obtain opens the starting image when one is configured and creates a blank sparse
// image otherwise, or when the starting image cannot be used.
func (s *Service) obtain(ctx context.Context, settings config.RunSettings, spec config.ImageSpec, logger *slog.Logger) (DiskImage, error) {
	if spec.StartingImage != "" {
		img, err := s.Images.OpenImage(spec.StartingImage)
		if err == nil {
			logger.Info("using existing image", "path", img.Path())
			return img, nil
		}
		logger.Error("could not use starting image, creating a blank sparse image instead", "sparse", spec.StartingImage, "error", err)
	}

	img, err := s.Images.CreateImage(ctx, spec.Name, spec.VolumeLabel, settings.ImageSize)
	if err != nil {
		return nil, err
	}
	logger.Info("created image", "path", img.Path())
	return img, nil
}

// sync runs the radmind cycle and post-maintenance against the volume mounted at the
// working directory, then reads the installed system's version.
func (s *Service) sync(ctx context.Context, settings config.RunSettings, spec config.ImageSpec, mountPoint string, outcome *Outcome, logger *slog.Logger) (string, string, error) {
	logs := phaseLogs{mountPoint: mountPoint, tempDir: settings.TempDir, image: spec.Name, now: s.now}
	failPhase := func(stage Stage, phase string, err error) (string, string, error) {
		logs.report(phase, logger)
		return "", "", &StageError{Stage: stage, Image: spec.Name, Err: err}
	}

	logger.Info("running ktcheck")
	if err := s.Sync.CheckCatalog(ctx, spec.CertificatePath, settings.SyncServer, CommandFile, logs.path("ktcheck")); err != nil {
		return failPhase(StageCatalog, "ktcheck", err)
	}

	logger.Info("running fsdiff", "output", filepath.Join(mountPoint, DiffOutput))
	if err := s.Sync.ComputeDiff(ctx, CommandFile, DiffOutput, logs.path("fsdiff")); err != nil {
		return failPhase(StageDiff, "fsdiff", err)
	}

	if err := s.Sync.CopyDiff(DiffOutput, ApplyInput); err != nil {
		return "", "", &StageError{Stage: StageCopyDiff, Image: spec.Name, Err: err}
	}

	logger.Info("running lapply", "input", filepath.Join(mountPoint, ApplyInput))
	if err := s.Sync.ApplyDiff(ctx, spec.CertificatePath, settings.SyncServer, ApplyInput, CommandFile, logs.path("lapply")); err != nil {
		return failPhase(StageApply, "lapply", err)
	}
	outcome.State = StateSynced

	logger.Info("running post-maintenance")
	if err := s.Sync.RunPostMaintenance(ctx, spec.VolumeLabel); err != nil {
		return "", "", &StageError{Stage: StagePostMaintenance, Image: spec.Name, Err: err}
	}
	outcome.State = StatePostMaintained

	version, build, err := s.Versions.ProductVersion(ctx, mountPoint)
	if err != nil {
		return "", "", &StageError{Stage: StageVersion, Image: spec.Name, Err: err}
	}
	logger.Info("read system version", "version", version, "build", build)
	return version, build, nil
}

// release discards the artifact of a failed image, unmounts it and removes its sparse
// image unless images persist.
func (s *Service) release(ctx context.Context, settings config.RunSettings, left *leftover, logger *slog.Logger) {
	// Cleanup must run even after the run was cancelled.
	ctx = context.WithoutCancel(ctx)
	img := left.img
	logger = logger.With("image", img.Name())

	if left.artifact != "" {
		removeFile(left.artifact, "artifact of failed image", logger)
	}
	if left.stuck || !s.failureUnmount(ctx, img, logger) {
		logger.Error("failed image is still mounted; manual cleanup required", "mount_point", img.MountPoint(), "path", left.sparse)
	}
	if settings.PersistImages || settings.PersistFailedImages {
		logger.Info("keeping failed image", "path", left.sparse)
		return
	}
	if img.Mounted() {
		logger.Error("not removing mounted image; manual cleanup required", "path", left.sparse)
		return
	}
	removeFile(left.sparse, "failed image", logger)
}

func removeFile(path, what string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Error("could not remove "+what, "path", path, "error", err)
		}
		return
	}
	logger.Info("removed "+what, "path", path)
}

// failureUnmount forcibly detaches img, escalating to a detach of its mount point, for a
// bounded number of attempts. It reports whether the image ended up unmounted.
func (s *Service) failureUnmount(ctx context.Context, img DiskImage, logger *slog.Logger) bool {
	if !img.Mounted() {
		return true
	}
	delay := s.retryDelay()
	for attempt := 1; attempt <= unmountAttempts; attempt++ {
		logger.Info("forcing unmount", "attempt", attempt, "disk", img.DiskID())
		s.sleep(delay)
		err := img.Detach(ctx, true)
		if err == nil {
			return true
		}
		logger.Warn("forced unmount failed", "attempt", attempt, "error", err)

		s.sleep(delay)
		if err := img.ForceDetachMountPoint(ctx); err != nil {
			logger.Warn("forced unmount of mount point failed", "mount_point", img.MountPoint(), "error", err)
		}
		s.sleep(delay)
		if err := img.Detach(ctx, true); err == nil {
			return true
		}
	}
	logger.Error("could not unmount image; manual intervention required", "disk", img.DiskID(), "mount_point", img.MountPoint())
	return false
}

func (s *Service) logger() *slog.Logger {
	return logging.Ensure(s.Logger).With("component", "build")
}

func (s *Service) sleep(d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) settleDelay() time.Duration {
	if s.SettleDelay > 0 {
		return s.SettleDelay
	}
	return DefaultSettleDelay
}

func (s *Service) retryDelay() time.Duration {
	if s.RetryDelay > 0 {
		return s.RetryDelay
	}
	return DefaultRetryDelay
}

// ArtifactName is the file name of the image produced from name on day created.
func ArtifactName(created time.Time, name, version, build string) string {
	return fmt.Sprintf("%s_%s_%s_%s.dmg", created.Format("2006.01.02"), strings.ToUpper(name), version, build)
}
