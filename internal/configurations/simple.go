package simple

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cochaviz/automagic/internal/artifacts"
	"github.com/cochaviz/automagic/internal/build"
	"github.com/cochaviz/automagic/internal/build/adapters/hdiutil"
	"github.com/cochaviz/automagic/internal/build/adapters/radmind"
	"github.com/cochaviz/automagic/internal/command"
	"github.com/cochaviz/automagic/internal/config"
	"github.com/cochaviz/automagic/internal/logging"
	"github.com/cochaviz/automagic/internal/osinfo"
	"github.com/cochaviz/automagic/internal/prompt"
	"github.com/cochaviz/automagic/internal/setup"
)

// Mode is how the images of a run were chosen.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeConfig      Mode = "config"
	ModeManual      Mode = "manual"
)

var defaultConfigFile = setup.DefaultConfigFile

// BuildOptions are the command line inputs of a build.
type BuildOptions struct {
	ConfigPath  string
	Interactive bool
	Overrides   config.Overrides
	// Image holds the single image given with --image, --cert, --volname and --sparse.
	Image    config.ImageSpec
	Prompter prompt.Prompter
}

func (o BuildOptions) manual() bool {
	return o.Overrides.TempDir != "" && o.Overrides.OutputDir != "" && o.Overrides.SyncServer != "" &&
		o.Image.Name != "" && o.Image.CertificatePath != "" && o.Image.VolumeLabel != ""
}

// Plan is a resolved build: validated settings and the images to produce in order.
type Plan struct {
	Mode       Mode
	ConfigPath string
	Settings   config.RunSettings
	Images     []config.ImageSpec
}

// PlanBuild picks the images and settings of a run. Interactive mode wins, then a
// configuration file, then a complete set of flags, then the default configuration
// file; anything else falls back to asking.
func PlanBuild(opts BuildOptions, logger *slog.Logger) (Plan, error) {
	logger = logging.Ensure(logger).With("component", "configurations.simple")

	if !opts.Interactive {
		configPath := opts.ConfigPath
		if configPath == "" && opts.manual() {
			return resolvePlan(Plan{
				Mode:     ModeManual,
				Settings: config.Merge(config.Defaults(), opts.Overrides),
				Images:   []config.ImageSpec{opts.Image},
			})
		}
		if configPath == "" {
			configPath = defaultConfigFile()
		}
		if configPath != "" {
			return planFromFile(configPath, opts, logger)
		}
		logger.Info("not enough options given, switching to interactive mode")
	}

	answers, err := opts.Prompter.Interactive(prompt.Answers{
		TempDir:     opts.Overrides.TempDir,
		OutputDir:   opts.Overrides.OutputDir,
		SyncServer:  opts.Overrides.SyncServer,
		Certificate: opts.Image.CertificatePath,
		Image:       opts.Image.Name,
		VolumeLabel: opts.Image.VolumeLabel,
	})
	if err != nil {
		return Plan{}, err
	}
	image := answers.ImageSpec()
	image.StartingImage = opts.Image.StartingImage
	return resolvePlan(Plan{
		Mode:     ModeInteractive,
		Settings: config.Merge(config.Defaults(), opts.Overrides, answers.Overrides()),
		Images:   []config.ImageSpec{image},
	})
}

func planFromFile(path string, opts BuildOptions, logger *slog.Logger) (Plan, error) {
	logger.Info("using config file", "path", path)
	file, err := config.Load(path)
	if err != nil {
		return Plan{}, err
	}

	images := file.Images
	if opts.Image.Name != "" {
		if images, err = config.Select(file.Images, opts.Image.Name); err != nil {
			return Plan{}, err
		}
		if opts.Image.StartingImage != "" {
			images[0].StartingImage = opts.Image.StartingImage
		}
	}
	return resolvePlan(Plan{
		Mode:       ModeConfig,
		ConfigPath: path,
		Settings:   config.Merge(config.Defaults(), file.Global, opts.Overrides),
		Images:     images,
	})
}

func resolvePlan(plan Plan) (Plan, error) {
	settings, err := plan.Settings.Resolve()
	if err != nil {
		return Plan{}, err
	}
	plan.Settings = settings
	return plan, nil
}

// Build produces the planned images with the macOS disk tools and radmind.
func Build(ctx context.Context, plan Plan, logger *slog.Logger) (build.Summary, error) {
	logger = logging.Ensure(logger)
	runner := command.ExecRunner{Logger: logger.With("component", "command")}

	service := build.Service{
		Logger: logger,
		Images: &hdiutil.Driver{
			Runner: runner,
			Logger: logger.With("component", "hdiutil"),
		},
		Sync: &radmind.Client{
			Runner:    runner,
			Logger:    logger,
			Port:      plan.Settings.RadmindPort,
			AuthLevel: plan.Settings.RadmindAuthLevel,
		},
		Versions:  &osinfo.Reader{Runner: runner},
		Artifacts: artifacts.LocalStore{},
	}

	logger.Info("using settings",
		"mode", plan.Mode,
		"tmp_dir", plan.Settings.TempDir,
		"out_dir", plan.Settings.OutputDir,
		"rserver", plan.Settings.SyncServer,
		"persist", plan.Settings.PersistImages,
		"persist_fail", plan.Settings.PersistFailedImages,
		"format", plan.Settings.ConvertFormat,
	)
	return service.Run(ctx, plan.Settings, plan.Images)
}

// ExitCode maps the result of a build to the process exit status. Stage specific
// codes are only reported when a single image was requested without prompting.
func ExitCode(plan Plan, summary build.Summary, err error) int {
	if err != nil {
		return 1
	}
	if summary.Succeeded == summary.Total {
		return 0
	}
	if plan.Mode != ModeInteractive && len(plan.Images) == 1 && len(summary.Outcomes) == 1 {
		return build.ExitCode(summary.Outcomes[0].Err)
	}
	return 1
}

// CheckConfig loads the file at path and validates its settings and every image
// without producing anything.
func CheckConfig(path string, overrides config.Overrides) (*config.File, error) {
	file, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	var errs []error
	if _, err := config.Merge(config.Defaults(), file.Global, overrides).Resolve(); err != nil {
		errs = append(errs, err)
	}
	for _, image := range file.Images {
		if _, err := image.Resolve(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return file, errors.Join(errs...)
	}
	return file, nil
}

// History lists the images recorded in outDir, oldest first.
func History(outDir string) ([]artifacts.Record, error) {
	if outDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	return artifacts.LocalStore{}.List(outDir)
}
