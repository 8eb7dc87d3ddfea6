package build

import (
	"errors"
	"fmt"
)

// ErrInterrupted is reported for images skipped after the run was cancelled.
var ErrInterrupted = errors.New("imaging interrupted")

// StageError reports the stage at which an image failed.
type StageError struct {
	Stage Stage
	Image string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("image %s failed at %s: %v", e.Image, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit status for err: the stage's code when err carries a
// StageError, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage.ExitCode()
	}
	return 1
}
