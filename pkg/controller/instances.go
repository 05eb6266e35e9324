package controller

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/brainbox/pkg/types"
	"github.com/google/uuid"
)

// allowed lists the legal instance transitions
var allowed = map[types.InstanceState][]types.InstanceState{
	types.InstanceInstalled:   {types.InstanceStarting},
	types.InstanceStarting:    {types.InstanceWarm, types.InstanceFailed},
	types.InstanceWarm:        {types.InstanceBusy, types.InstanceCoolingDown, types.InstanceFailed},
	types.InstanceBusy:        {types.InstanceWarm, types.InstanceFailed},
	types.InstanceCoolingDown: {types.InstanceInstalled, types.InstanceFailed},
}

// CanTransition reports whether from -> to is a legal instance transition
func CanTransition(from, to types.InstanceState) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

type instanceEntry struct {
	// op serializes start, stop and health checks on this instance
	op sync.Mutex

	inst types.Instance
	rc   types.RunConfiguration
}

// instanceTable is the per-controller instance state machine
type instanceTable struct {
	mu      sync.RWMutex
	entries map[string]*instanceEntry
	now     func() time.Time

	// onChange observes every transition; it is called without the table lock
	onChange func(types.Instance)
}

func newInstanceTable() *instanceTable {
	return &instanceTable{
		entries: make(map[string]*instanceEntry),
		now:     time.Now,
	}
}

// create registers a new instance for rc and moves it to Starting. The
// returned entry's op lock is held; the caller unlocks it.
func (t *instanceTable) create(decider string, rc types.RunConfiguration) *instanceEntry {
	now := t.now()
	e := &instanceEntry{
		inst: types.Instance{
			ID:           uuid.New().String(),
			Key:          types.InstanceKey{Decider: decider, Parameter: rc.Parameter},
			State:        types.InstanceInstalled,
			StartedAt:    now,
			LastActivity: now,
		},
		rc: rc,
	}
	e.op.Lock()

	t.mu.Lock()
	t.entries[e.inst.ID] = e
	e.inst.State = types.InstanceStarting
	snap := e.inst
	t.mu.Unlock()

	t.notify(snap)
	return e
}

func (t *instanceTable) entry(id string) (*instanceEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, types.ErrNotFound)
	}
	return e, nil
}

func (t *instanceTable) get(id string) (types.Instance, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return types.Instance{}, fmt.Errorf("instance %s: %w", id, types.ErrNotFound)
	}
	return e.inst, nil
}

// transition moves an instance to state to, validating the edge
func (t *instanceTable) transition(id string, to types.InstanceState) (types.Instance, error) {
	return t.update(id, func(inst *types.Instance) error {
		if !CanTransition(inst.State, to) {
			return fmt.Errorf("instance %s: %s -> %s: %w", id, inst.State, to, types.ErrInvalidTransition)
		}
		inst.State = to
		return nil
	})
}

func (t *instanceTable) update(id string, fn func(inst *types.Instance) error) (types.Instance, error) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return types.Instance{}, fmt.Errorf("instance %s: %w", id, types.ErrNotFound)
	}
	before := e.inst.State
	if err := fn(&e.inst); err != nil {
		t.mu.Unlock()
		return types.Instance{}, err
	}
	snap := e.inst
	t.mu.Unlock()

	if snap.State != before {
		t.notify(snap)
	}
	return snap, nil
}

func (t *instanceTable) setHandle(id string, h types.Handle) {
	_, _ = t.update(id, func(inst *types.Instance) error {
		inst.Handle = h
		return nil
	})
}

// acquire moves Warm -> Busy
func (t *instanceTable) acquire(id string) error {
	_, err := t.update(id, func(inst *types.Instance) error {
		switch inst.State {
		case types.InstanceWarm:
			inst.State = types.InstanceBusy
			return nil
		case types.InstanceBusy:
			return fmt.Errorf("instance %s: %w", id, types.ErrInstanceBusy)
		default:
			return fmt.Errorf("instance %s: acquire in state %s: %w", id, inst.State, types.ErrInvalidTransition)
		}
	})
	return err
}

// release moves Busy -> Warm and touches LastActivity
func (t *instanceTable) release(id string) error {
	_, err := t.update(id, func(inst *types.Instance) error {
		if inst.State != types.InstanceBusy {
			return fmt.Errorf("instance %s: release in state %s: %w", id, inst.State, types.ErrInvalidTransition)
		}
		inst.State = types.InstanceWarm
		inst.LastActivity = t.now()
		return nil
	})
	return err
}

// fail moves any non-terminal instance to Failed
func (t *instanceTable) fail(id, reason string) (types.Instance, error) {
	return t.update(id, func(inst *types.Instance) error {
		if inst.State == types.InstanceFailed {
			return nil
		}
		if !CanTransition(inst.State, types.InstanceFailed) {
			return fmt.Errorf("instance %s: %s -> failed: %w", id, inst.State, types.ErrInvalidTransition)
		}
		inst.State = types.InstanceFailed
		inst.Reason = reason
		return nil
	})
}

func (t *instanceTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// list returns instances ordered by key, then id
func (t *instanceTable) list() []types.Instance {
	t.mu.RLock()
	out := make([]types.Instance, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.inst)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key.Less(out[j].Key)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *instanceTable) notify(inst types.Instance) {
	if t.onChange != nil {
		t.onChange(inst)
	}
}
