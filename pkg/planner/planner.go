package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/brainbox/pkg/types"
)

// ActionKind is the kind of decision a planner makes
type ActionKind string

const (
	ActionWait     ActionKind = "wait"
	ActionWarmUp   ActionKind = "warm_up"
	ActionAssign   ActionKind = "assign_job"
	ActionCoolDown ActionKind = "cool_down"
)

// Action is a single planner decision
type Action struct {
	Kind       ActionKind        `json:"kind"`
	TaskID     string            `json:"task_id,omitempty"`     // AssignJob
	Key        types.InstanceKey `json:"key"`                   // WarmUp, AssignJob, CoolDown
	InstanceID string            `json:"instance_id,omitempty"` // AssignJob, CoolDown
}

// Wait is the action that does nothing
var Wait = Action{Kind: ActionWait}

func (a Action) String() string {
	switch a.Kind {
	case ActionAssign:
		return fmt.Sprintf("assign %s to %s (%s)", a.TaskID, a.Key, a.InstanceID)
	case ActionWarmUp:
		return fmt.Sprintf("warm up %s", a.Key)
	case ActionCoolDown:
		return fmt.Sprintf("cool down %s (%s)", a.Key, a.InstanceID)
	default:
		return string(a.Kind)
	}
}

// JobView is an eligible pending job as the planner sees it
type JobView struct {
	TaskID     string
	Key        types.InstanceKey
	ReceivedAt time.Time
}

// InstanceView is a decider instance as the planner sees it
type InstanceView struct {
	ID           string
	Key          types.InstanceKey
	State        types.InstanceState
	LastActivity time.Time
}

// Snapshot is the consistent input of one planning step
type Snapshot struct {
	Now       time.Time
	Pending   []JobView
	Instances []InstanceView
}

// Planner decides the next action. Implementations are pure: the same
// snapshot always yields the same action.
type Planner interface {
	Name() string
	NextAction(s Snapshot) Action
}

// StartupPlanner is a planner with actions to apply when the runner starts
type StartupPlanner interface {
	Planner
	StartupActions() []Action
}

// Admitter restricts which instance keys a planner accepts jobs for
type Admitter interface {
	Admits(key types.InstanceKey) bool
}

// sortedJobs orders jobs by received time, then task id
func sortedJobs(jobs []JobView) []JobView {
	out := append([]JobView(nil), jobs...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// sortedInstances orders instances by key, then id
func sortedInstances(instances []InstanceView) []InstanceView {
	out := append([]InstanceView(nil), instances...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key.Less(out[j].Key)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// index groups instances by key
type index map[types.InstanceKey][]InstanceView

func indexInstances(instances []InstanceView) index {
	idx := make(index)
	for _, inst := range sortedInstances(instances) {
		idx[inst.Key] = append(idx[inst.Key], inst)
	}
	return idx
}

// warm returns the first Warm instance of key
func (idx index) warm(key types.InstanceKey) (InstanceView, bool) {
	for _, inst := range idx[key] {
		if inst.State == types.InstanceWarm {
			return inst, true
		}
	}
	return InstanceView{}, false
}

// live reports whether key has an instance that is running or coming up
func (idx index) live(key types.InstanceKey) bool {
	for _, inst := range idx[key] {
		if inst.State.Live() {
			return true
		}
	}
	return false
}

func liveCount(instances []InstanceView) int {
	n := 0
	for _, inst := range instances {
		if inst.State.Live() {
			n++
		}
	}
	return n
}
