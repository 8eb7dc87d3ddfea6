package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cochaviz/automagic/internal/build"
	"github.com/cochaviz/automagic/internal/config"
	simple "github.com/cochaviz/automagic/internal/configurations"
	"github.com/cochaviz/automagic/internal/logging"
	"github.com/cochaviz/automagic/internal/prompt"
	"github.com/cochaviz/automagic/internal/setup"
)

const defaultLogLevel = "info"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// exitError carries a specific process exit status.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// sink lets the logger be created before the flags that choose its destination are
// parsed.
type sink struct {
	w      io.Writer
	output *logging.Output
}

func (s *sink) Write(p []byte) (int, error) { return s.w.Write(p) }

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	out := &sink{w: os.Stderr}
	logger := logging.NewCLI(out, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar, out)
	code := exitCode(logger, root.ExecuteContext(ctx))
	out.output.Close()
	if code != 0 {
		os.Exit(code)
	}
}

// exitCode logs err and returns the status the process exits with.
func exitCode(logger *slog.Logger, err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		logger.Warn("command interrupted", "error", err)
		return 130
	}
	var exit *exitError
	if errors.As(err, &exit) {
		logger.Error("command execution failed", "error", exit.err)
		return exit.code
	}
	logger.Error("command execution failed", "error", err)
	return 1
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar, out *sink) *cobra.Command {
	setup.SetLogger(logger.With("component", "setup"))

	var (
		logLevel = defaultLogLevel
		noLog    bool
		logPath  string
	)

	root := &cobra.Command{
		Use:           "automagic",
		Short:         "Build bootable macOS images populated by radmind",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().BoolVarP(&noLog, "no-log", "n", false, "Only log to the console")
	root.PersistentFlags().StringVarP(&logPath, "log", "l", logging.DefaultLogFile, "Log file")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		if noLog || out == nil {
			return nil
		}

		output, err := logging.OpenOutput(out.w, &logging.FileOptions{Path: logPath})
		if err != nil {
			return exitWith(3, err)
		}
		out.w = output.Writer
		out.output = output
		return nil
	}

	root.AddCommand(
		newBuildCommand(logger),
		newCheckConfigCommand(logger),
		newHistoryCommand(logger),
	)
	return root
}

func newBuildCommand(logger *slog.Logger) *cobra.Command {
	var (
		opts         simple.BuildOptions
		persist      bool
		persistFail  bool
		interactive  bool
		configPath   string
		volumeLabel  string
		startingFrom string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Args:  cobra.NoArgs,
		Short: "Create, populate, bless and convert images",
		Long: "Create, populate, bless and convert images.\n\n" +
			"Images come from an interactive prompt (-i), a configuration file (-c), or the\n" +
			"complete set of -t, -o, -r, --cert, --image and --volname. Without either the\n" +
			"default configuration file is used, and failing that the prompt.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "build")
			cmdLogger.Info("automagic "+version, "args", strings.Join(os.Args, " "))

			if err := setup.RequireRoot(); err != nil {
				return exitWith(1, err)
			}
			if _, err := setup.RaiseFileLimit(setup.MinOpenFiles); err != nil {
				cmdLogger.Warn("could not adjust open file limit, continuing anyway", "error", err)
			}

			if cmd.Flags().Changed("persist") {
				opts.Overrides.PersistImages = &persist
			}
			if cmd.Flags().Changed("persist-fail") {
				opts.Overrides.PersistFailedImages = &persistFail
			}
			opts.Interactive = interactive
			opts.ConfigPath = configPath
			opts.Image.VolumeLabel = volumeLabel
			opts.Image.StartingImage = startingFrom

			plan, err := simple.PlanBuild(opts, cmdLogger)
			if err != nil {
				if errors.Is(err, prompt.ErrInterrupted) {
					return exitWith(1, err)
				}
				if errors.Is(err, config.ErrInvalid) && opts.Image.Name != "" && !interactive {
					return exitWith(build.StageValidate.ExitCode(), err)
				}
				return exitWith(1, err)
			}

			summary, err := simple.Build(cmd.Context(), plan, cmdLogger)
			if err != nil {
				return err
			}
			for _, outcome := range summary.Outcomes {
				fmt.Fprintln(cmd.OutOrStdout(), outcome.String())
			}
			if code := simple.ExitCode(plan, summary, nil); code != 0 {
				return exitWith(code, fmt.Errorf("%d of %d images failed", summary.Total-summary.Succeeded, summary.Total))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Configuration file (INI, TOML or YAML)")
	flags.BoolVarP(&interactive, "interactive", "i", false, "Prompt for every setting")
	flags.StringVarP(&opts.Overrides.TempDir, "tmp-dir", "t", "", "Directory for sparse images")
	flags.StringVarP(&opts.Overrides.OutputDir, "out-dir", "o", "", "Directory for finished images")
	flags.StringVarP(&opts.Overrides.SyncServer, "rserver", "r", "", "Radmind server address")
	flags.BoolVar(&persist, "persist", false, "Keep sparse images after converting them")
	flags.BoolVar(&persistFail, "persist-fail", false, "Keep sparse images of failed runs")
	flags.StringVar(&opts.Image.CertificatePath, "cert", "", "Radmind client certificate (.pem)")
	flags.StringVar(&opts.Image.Name, "image", "", "Image name; selects one image of the configuration file")
	flags.StringVar(&volumeLabel, "volname", "", "Bootable volume name; $VERSION and $BUILD are substituted")
	flags.StringVar(&startingFrom, "sparse", "", "Existing sparse image to start from")

	return cmd
}

func newCheckConfigCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config <file>",
		Args:  cobra.ExactArgs(1),
		Short: "Validate a configuration file without imaging",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "check-config", "path", args[0])

			file, err := simple.CheckConfig(args[0], config.Overrides{})
			if err != nil {
				return exitWith(build.StageValidate.ExitCode(), err)
			}
			for _, image := range file.Images {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", image.Name, image.VolumeLabel, image.CertificatePath)
			}
			cmdLogger.Info("configuration is valid", "images", len(file.Images))
			return nil
		},
	}
}

func newHistoryCommand(logger *slog.Logger) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "history",
		Args:  cobra.NoArgs,
		Short: "List images recorded in an output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := simple.History(outDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "no images")
				return nil
			}
			for _, rec := range records {
				fmt.Fprintf(out, "%s\t%s\t%s (%s)\t%s\n", rec.CreatedAt.Format("2006-01-02 15:04"), rec.Image, rec.Version, rec.Build, rec.Path)
			}
			logger.Debug("listed images", "out_dir", outDir, "count", len(records))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "Output directory to list")
	_ = cmd.MarkFlagRequired("out-dir")
	return cmd
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}
