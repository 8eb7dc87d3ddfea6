package config

import (
	"errors"
	"strings"
)

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError lists what is wrong with a configuration file or one of its sections.
type ValidationError struct {
	Path     string
	Section  string
	Problems []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid config")
	if e.Path != "" {
		b.WriteString(" file " + e.Path)
	}
	if e.Section != "" {
		b.WriteString(" [" + e.Section + "]")
	}
	b.WriteString(": ")
	b.WriteString(strings.Join(e.Problems, "; "))
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}
