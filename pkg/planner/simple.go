package planner

import (
	"time"

	"github.com/cuemby/brainbox/pkg/types"
)

// SimplePlanner warms an instance per job on demand and cools it down once no
// eligible job needs it. It trades repeated warmup latency for idle resources.
type SimplePlanner struct {
	// IdleTimeout is how long a Warm instance may sit unneeded before it is
	// cooled down; zero cools it down immediately
	IdleTimeout time.Duration

	// MaxInstances caps live instances across all deciders; zero is unlimited
	MaxInstances int
}

// Name returns the policy name
func (p *SimplePlanner) Name() string { return PolicySimple }

// NextAction cools down idle unneeded instances first, then serves the
// earliest eligible job: assign it to a Warm instance of its key, or warm one
// up when the key has no live instance. Jobs whose instance is starting, busy
// or cooling down wait.
func (p *SimplePlanner) NextAction(s Snapshot) Action {
	needed := make(map[types.InstanceKey]bool, len(s.Pending))
	for _, j := range s.Pending {
		needed[j.Key] = true
	}

	for _, inst := range sortedInstances(s.Instances) {
		if inst.State != types.InstanceWarm || needed[inst.Key] {
			continue
		}
		if s.Now.Sub(inst.LastActivity) >= p.IdleTimeout {
			return Action{Kind: ActionCoolDown, Key: inst.Key, InstanceID: inst.ID}
		}
	}

	idx := indexInstances(s.Instances)
	live := liveCount(s.Instances)
	for _, job := range sortedJobs(s.Pending) {
		if inst, ok := idx.warm(job.Key); ok {
			return Action{Kind: ActionAssign, TaskID: job.TaskID, Key: job.Key, InstanceID: inst.ID}
		}
		if idx.live(job.Key) {
			continue
		}
		if p.MaxInstances > 0 && live >= p.MaxInstances {
			continue
		}
		return Action{Kind: ActionWarmUp, Key: job.Key}
	}
	return Wait
}
