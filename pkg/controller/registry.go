package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/brainbox/pkg/log"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DeciderStatus is the externally visible state of a registered decider
type DeciderStatus struct {
	Name      string                   `json:"name"`
	Mode      Mode                     `json:"mode"`
	Status    types.InstallationStatus `json:"status"`
	Error     string                   `json:"error,omitempty"`
	Instances []types.Instance         `json:"instances"`
}

type registryEntry struct {
	ctrl   Controller
	status types.InstallationStatus
	err    error

	// done is closed when the in-flight install finishes
	done chan struct{}
}

// Registry maps decider names to controllers and their installation status
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	logger  zerolog.Logger

	// OnStatusChange observes installation outcomes
	OnStatusChange func(name string, status types.InstallationStatus, err error)
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		logger:  log.WithComponent("registry"),
	}
}

// Register adds a controller; names must be unique
func (r *Registry) Register(ctrl Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := ctrl.Name()
	if name == "" {
		return fmt.Errorf("controller has no name")
	}
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("decider %q already registered", name)
	}
	r.entries[name] = &registryEntry{ctrl: ctrl, status: types.NotInstalled}
	return nil
}

// Get returns the controller registered under name
func (r *Registry) Get(name string) (Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, &types.UnknownDeciderError{Decider: name}
	}
	return e.ctrl, nil
}

// Status returns the installation status of a decider
func (r *Registry) Status(name string) (types.InstallationStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return "", &types.UnknownDeciderError{Decider: name}
	}
	return e.status, nil
}

// Statuses returns every decider's status and instances, ordered by name
func (r *Registry) Statuses() []DeciderStatus {
	r.mu.RLock()
	out := make([]DeciderStatus, 0, len(r.entries))
	ctrls := make([]Controller, 0, len(r.entries))
	for name, e := range r.entries {
		st := DeciderStatus{Name: name, Mode: e.ctrl.Mode(), Status: e.status}
		if e.err != nil {
			st.Error = e.err.Error()
		}
		out = append(out, st)
		ctrls = append(ctrls, e.ctrl)
	}
	r.mu.RUnlock()

	for i := range out {
		out[i].Instances = ctrls[i].Instances()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered decider names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Controllers returns the registered controllers ordered by name
func (r *Registry) Controllers() []Controller {
	names := r.Names()
	out := make([]Controller, 0, len(names))
	for _, name := range names {
		if c, err := r.Get(name); err == nil {
			out = append(out, c)
		}
	}
	return out
}

// EnsureInstalled installs a decider unless it already is. Concurrent callers
// share one install. A recorded failure is returned again without retrying;
// use Reinstall to try once more.
func (r *Registry) EnsureInstalled(ctx context.Context, name string) error {
	for {
		r.mu.Lock()
		e, ok := r.entries[name]
		if !ok {
			r.mu.Unlock()
			return &types.UnknownDeciderError{Decider: name}
		}

		switch e.status {
		case types.Installed:
			r.mu.Unlock()
			return nil

		case types.InstallFailed:
			err := e.err
			r.mu.Unlock()
			return err

		case types.Installing:
			done := e.done
			r.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}

		default:
			e.status = types.Installing
			e.done = make(chan struct{})
			r.mu.Unlock()
			return r.install(ctx, name, e)
		}
	}
}

func (r *Registry) install(ctx context.Context, name string, e *registryEntry) error {
	r.logger.Info().Str("decider", name).Msg("Installing decider")
	err := e.ctrl.Install(ctx)
	if err != nil {
		var installErr *types.InstallError
		if !errors.As(err, &installErr) {
			err = &types.InstallError{Decider: name, Err: err}
		}
	}

	r.mu.Lock()
	switch {
	case err == nil:
		e.status = types.Installed
		e.err = nil
	case ctx.Err() != nil:
		// An interrupted install is not a verdict on the image
		e.status = types.NotInstalled
		e.err = nil
	default:
		e.status = types.InstallFailed
		e.err = err
	}
	status := e.status
	close(e.done)
	r.mu.Unlock()

	if err != nil {
		r.logger.Error().Err(err).Str("decider", name).Msg("Decider install failed")
	} else {
		r.logger.Info().Str("decider", name).Msg("Decider installed")
	}
	if r.OnStatusChange != nil {
		r.OnStatusChange(name, status, err)
	}
	return err
}

// Reinstall clears a recorded failure and installs again
func (r *Registry) Reinstall(ctx context.Context, name string) error {
	for {
		r.mu.Lock()
		e, ok := r.entries[name]
		if !ok {
			r.mu.Unlock()
			return &types.UnknownDeciderError{Decider: name}
		}
		if e.status == types.Installing {
			done := e.done
			r.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		e.status = types.NotInstalled
		e.err = nil
		r.mu.Unlock()
		return r.EnsureInstalled(ctx, name)
	}
}

// InstallAll installs every registered decider with at most limit installs in
// flight. It returns the first failure after all installs finished.
func (r *Registry) InstallAll(ctx context.Context, limit int) error {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, name := range r.Names() {
		g.Go(func() error {
			return r.EnsureInstalled(ctx, name)
		})
	}
	return g.Wait()
}
