// Package workdir scopes changes of the process working directory.
//
// The working directory is process-global. Radmind's tools and the OS version lookup
// operate on "." and must run with the mounted volume as the current directory, so every
// change goes through Do, which always puts the previous directory back.
package workdir

import (
	"fmt"
	"os"
	"sync"
)

var mu sync.Mutex

// Do runs fn with dir as the working directory and restores the previous directory on
// return, error or panic. Scopes nest.
func Do(dir string, fn func() error) (err error) {
	saved, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("enter %s: %w", dir, err)
	}
	defer func() {
		if restoreErr := os.Chdir(saved); restoreErr != nil && err == nil {
			err = fmt.Errorf("return to %s: %w", saved, restoreErr)
		}
	}()

	return fn()
}

// Locked runs fn while holding the package lock. Callers that start a sequence of
// scopes (one image at a time) use it to keep other goroutines out of the
// working directory.
func Locked(fn func() error) error {
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
