// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"io"
	"path/filepath"
	"sync"

	"github.com/cochaviz/automagic/internal/command"
)

// Handler produces the result for one invocation.
type Handler func(c command.Cmd) (command.Result, error)

// Fake records every invocation and answers from handlers registered per command
// name. Handlers registered for the same name are consumed in order and the last one
// keeps answering. Unregistered commands exit 0 with no output.
type Fake struct {
	mu       sync.Mutex
	calls    []command.Cmd
	handlers map[string][]Handler
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{handlers: map[string][]Handler{}}
}

// On queues h for commands whose name, or base name, equals name.
func (f *Fake) On(name string, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = append(f.handlers[name], h)
	return f
}

// Run implements command.Runner.
func (f *Fake) Run(_ context.Context, c command.Cmd) (command.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, command.Cmd{Name: c.Name, Args: append([]string(nil), c.Args...)})
	h := f.next(c.Name)
	if h == nil {
		h = f.next(filepath.Base(c.Name))
	}
	f.mu.Unlock()

	if h == nil {
		return command.Result{}, nil
	}
	result, err := h(c)
	if c.Output != nil && result.Stdout != "" {
		_, _ = io.WriteString(c.Output, result.Stdout)
	}
	return result, err
}

func (f *Fake) next(name string) Handler {
	queue := f.handlers[name]
	if len(queue) == 0 {
		return nil
	}
	h := queue[0]
	if len(queue) > 1 {
		f.handlers[name] = queue[1:]
	}
	return h
}

// Calls returns every recorded invocation in order.
func (f *Fake) Calls() []command.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]command.Cmd(nil), f.calls...)
}

// CallsTo returns the recorded invocations of name (full path or base name).
func (f *Fake) CallsTo(name string) []command.Cmd {
	var out []command.Cmd
	for _, c := range f.Calls() {
		if c.Name == name || filepath.Base(c.Name) == name {
			out = append(out, c)
		}
	}
	return out
}

// Exit answers with the given exit status.
func Exit(code int) Handler {
	return func(command.Cmd) (command.Result, error) {
		return command.Result{ExitCode: code}, nil
	}
}

// Stdout answers with exit status zero and the given output.
func Stdout(out string) Handler {
	return func(command.Cmd) (command.Result, error) {
		return command.Result{Stdout: out}, nil
	}
}
