package radmind

import (
	"errors"
	"fmt"
)

var (
	ErrCatalogCheck    = errors.New("ktcheck did not complete successfully")
	ErrDiffCompute     = errors.New("fsdiff did not complete successfully")
	ErrCopyDiff        = errors.New("could not copy the fsdiff output")
	ErrApply           = errors.New("lapply did not complete successfully")
	ErrPostMaintenance = errors.New("post-maintenance was unsuccessful")
)

// PhaseError reports a failed step of the radmind cycle.
type PhaseError struct {
	Kind     error
	Phase    string
	ExitCode int
	LogFile  string
	Err      error
}

func (e *PhaseError) Error() string {
	msg := e.Kind.Error()
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	} else if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s: %s exited with status %d", msg, e.Phase, e.ExitCode)
	}
	if e.LogFile != "" {
		msg += " (see " + e.LogFile + ")"
	}
	return msg
}

func (e *PhaseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
