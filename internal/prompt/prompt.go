// Package prompt asks for run settings and a single image on the terminal.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/cochaviz/automagic/internal/config"
)

const (
	DefaultTempDir    = "/tmp"
	DefaultOutputDir  = "/tmp"
	DefaultSyncServer = "radmind.example.com"
)

// ErrInterrupted is returned when the user aborts a prompt.
var ErrInterrupted = errors.New("interrupted")

// AskFunc matches survey.Ask.
type AskFunc func(qs []*survey.Question, response interface{}, opts ...survey.AskOpt) error

// Prompter asks for values not given on the command line, offering the given ones as
// defaults.
type Prompter struct {
	Ask AskFunc
}

// Answers are the values collected in interactive mode.
type Answers struct {
	TempDir     string `survey:"tmp_dir"`
	OutputDir   string `survey:"out_dir"`
	SyncServer  string `survey:"rserver"`
	Certificate string `survey:"cert"`
	Image       string `survey:"image"`
	VolumeLabel string `survey:"volname"`
}

// Overrides returns the run settings among the answers.
func (a Answers) Overrides() config.Overrides {
	return config.Overrides{TempDir: a.TempDir, OutputDir: a.OutputDir, SyncServer: a.SyncServer}
}

// ImageSpec returns the image among the answers.
func (a Answers) ImageSpec() config.ImageSpec {
	return config.ImageSpec{Name: a.Image, VolumeLabel: a.VolumeLabel, CertificatePath: a.Certificate}
}

// Interactive asks for every value, starting from defaults.
func (p Prompter) Interactive(defaults Answers) (Answers, error) {
	answers := defaults
	if answers.TempDir == "" {
		answers.TempDir = DefaultTempDir
	}
	if answers.OutputDir == "" {
		answers.OutputDir = DefaultOutputDir
	}
	if answers.SyncServer == "" {
		answers.SyncServer = DefaultSyncServer
	}
	if answers.VolumeLabel == "" {
		answers.VolumeLabel = answers.Image
	}

	qs := []*survey.Question{
		{
			Name:     "tmp_dir",
			Prompt:   &survey.Input{Message: "Temporary directory", Default: answers.TempDir},
			Validate: survey.ComposeValidators(survey.Required, isDir),
		},
		{
			Name:     "out_dir",
			Prompt:   &survey.Input{Message: "Output directory", Default: answers.OutputDir},
			Validate: survey.ComposeValidators(survey.Required, isDir),
		},
		{
			Name:     "rserver",
			Prompt:   &survey.Input{Message: "Radmind server address", Default: answers.SyncServer},
			Validate: survey.Required,
		},
		{
			Name:     "cert",
			Prompt:   &survey.Input{Message: "Path to certificate (.pem)", Default: answers.Certificate},
			Validate: survey.ComposeValidators(survey.Required, isFile),
		},
		{
			Name:     "image",
			Prompt:   &survey.Input{Message: "Image name", Default: answers.Image},
			Validate: survey.Required,
		},
		{
			Name:     "volname",
			Prompt:   &survey.Input{Message: "Name of bootable volume", Default: answers.VolumeLabel, Help: "$VERSION and $BUILD are replaced by the installed system's version and build"},
			Validate: survey.Required,
		},
	}

	if err := p.ask()(qs, &answers); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return Answers{}, ErrInterrupted
		}
		return Answers{}, fmt.Errorf("prompt: %w", err)
	}
	answers.TempDir = strings.TrimSpace(answers.TempDir)
	answers.OutputDir = strings.TrimSpace(answers.OutputDir)
	answers.SyncServer = strings.TrimSpace(answers.SyncServer)
	return answers, nil
}

func (p Prompter) ask() AskFunc {
	if p.Ask != nil {
		return p.Ask
	}
	return survey.Ask
}

func isDir(ans interface{}) error {
	path, _ := ans.(string)
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return fmt.Errorf("no such directory %q", path)
	}
	return nil
}

func isFile(ans interface{}) error {
	path, _ := ans.(string)
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("no such file %q", path)
	}
	return nil
}
