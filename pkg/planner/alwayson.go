package planner

import (
	"sort"

	"github.com/cuemby/brainbox/pkg/types"
)

// AlwaysOnPlanner keeps a fixed set of instances warm for the life of the
// runner. After startup it only ever assigns jobs or waits.
type AlwaysOnPlanner struct {
	Keys []types.InstanceKey
}

// Name returns the policy name
func (p *AlwaysOnPlanner) Name() string { return PolicyAlwaysOn }

// StartupActions warms every configured key once
func (p *AlwaysOnPlanner) StartupActions() []Action {
	keys := append([]types.InstanceKey(nil), p.Keys...)
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	actions := make([]Action, 0, len(keys))
	for i, k := range keys {
		if i > 0 && keys[i-1] == k {
			continue
		}
		actions = append(actions, Action{Kind: ActionWarmUp, Key: k})
	}
	return actions
}

// Admits accepts only jobs for configured keys
func (p *AlwaysOnPlanner) Admits(key types.InstanceKey) bool {
	for _, k := range p.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// NextAction assigns the earliest eligible job that has a Warm instance
func (p *AlwaysOnPlanner) NextAction(s Snapshot) Action {
	idx := indexInstances(s.Instances)
	for _, job := range sortedJobs(s.Pending) {
		if inst, ok := idx.warm(job.Key); ok {
			return Action{Kind: ActionAssign, TaskID: job.TaskID, Key: job.Key, InstanceID: inst.ID}
		}
	}
	return Wait
}
