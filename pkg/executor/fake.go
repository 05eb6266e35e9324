package executor

import (
	"context"
	"strings"
	"sync"
)

// Response is a scripted reply of a FakeExecutor
type Response struct {
	Result *Result
	Err    error
}

// FakeExecutor records commands and replies from a script keyed by command prefix.
// It never touches the host and is meant for tests of code built on Executor.
type FakeExecutor struct {
	mu        sync.Mutex
	commands  []Command
	responses map[string]Response
}

// NewFakeExecutor creates an executor that answers every command with success
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{responses: make(map[string]Response)}
}

// On scripts the reply for commands starting with prefix (space-joined args)
func (f *FakeExecutor) On(prefix string, res *Result, err error) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = Response{Result: res, Err: err}
	return f
}

// Execute records the command and returns the longest matching scripted reply
func (f *FakeExecutor) Execute(ctx context.Context, c Command) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands = append(f.commands, c)
	line := c.String()

	best := ""
	found := false
	for prefix := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best = prefix
			found = true
		}
	}
	if !found {
		return &Result{}, nil
	}
	r := f.responses[best]
	if r.Result == nil {
		return &Result{}, r.Err
	}
	return r.Result, r.Err
}

// Commands returns the command lines executed so far
func (f *FakeExecutor) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.commands))
	for i, c := range f.commands {
		lines[i] = c.String()
	}
	return lines
}
