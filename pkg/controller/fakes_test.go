package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/brainbox/pkg/types"
)

// fakeRuntime records container operations and serves a fixed address
type fakeRuntime struct {
	mu       sync.Mutex
	address  string
	imageErr error
	startErr error
	running  map[string]bool
	calls    []string
	stdin    [][]byte
	output   []byte
	runErr   error
}

func newFakeRuntime(address string) *fakeRuntime {
	return &fakeRuntime{address: address, running: make(map[string]bool)}
}

func (f *fakeRuntime) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRuntime) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRuntime) EnsureImage(ctx context.Context, image string, build *types.BuildSpec) error {
	f.record("ensure " + image)
	return f.imageErr
}

func (f *fakeRuntime) StartContainer(ctx context.Context, name string, rc types.RunConfiguration) (types.Handle, error) {
	f.record("start " + name)
	if f.startErr != nil {
		return types.Handle{}, f.startErr
	}
	f.mu.Lock()
	f.running[name] = true
	f.mu.Unlock()
	return types.Handle{ContainerID: name, Address: f.address}, nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	f.record("stop " + containerID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[containerID] = false
	return nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	f.record("rm " + containerID)
	return nil
}

func (f *fakeRuntime) IsRunning(ctx context.Context, containerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[containerID]
}

func (f *fakeRuntime) kill(containerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[containerID] = false
}

func (f *fakeRuntime) RunOnce(ctx context.Context, name string, rc types.RunConfiguration, stdin []byte) ([]byte, error) {
	f.record("run " + rc.Image)
	f.mu.Lock()
	f.stdin = append(f.stdin, stdin)
	f.mu.Unlock()
	return f.output, f.runErr
}

func (f *fakeRuntime) Close() error { return nil }

var errBoom = errors.New("boom")
