package planner

import (
	"testing"
	"time"

	"github.com/cuemby/brainbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	asr    = types.InstanceKey{Decider: "whisper", Parameter: "en"}
	tts    = types.InstanceKey{Decider: "piper"}
	speaks = types.InstanceKey{Decider: "resemblyzer"}
)

func job(id string, key types.InstanceKey, at time.Duration) JobView {
	return JobView{TaskID: id, Key: key, ReceivedAt: t0.Add(at)}
}

func instance(id string, key types.InstanceKey, state types.InstanceState, idleSince time.Duration) InstanceView {
	return InstanceView{ID: id, Key: key, State: state, LastActivity: t0.Add(idleSince)}
}

func TestSimplePlanner_WarmAssignCool(t *testing.T) {
	p := &SimplePlanner{}

	// Nothing running: warm up for the job
	s := Snapshot{Now: t0, Pending: []JobView{job("a", asr, 0)}}
	assert.Equal(t, Action{Kind: ActionWarmUp, Key: asr}, p.NextAction(s))

	// Instance is starting: wait
	s.Instances = []InstanceView{instance("i1", asr, types.InstanceStarting, 0)}
	assert.Equal(t, Wait, p.NextAction(s))

	// Warm: assign
	s.Instances[0].State = types.InstanceWarm
	assert.Equal(t, Action{Kind: ActionAssign, TaskID: "a", Key: asr, InstanceID: "i1"}, p.NextAction(s))

	// Busy: a second job for the same instance waits
	s.Pending = []JobView{job("b", asr, time.Second)}
	s.Instances[0].State = types.InstanceBusy
	assert.Equal(t, Wait, p.NextAction(s))

	// Finished and nothing else needs it: cool down immediately
	s.Pending = nil
	s.Instances[0].State = types.InstanceWarm
	assert.Equal(t, Action{Kind: ActionCoolDown, Key: asr, InstanceID: "i1"}, p.NextAction(s))

	// Cooling down: nothing to do
	s.Instances[0].State = types.InstanceCoolingDown
	assert.Equal(t, Wait, p.NextAction(s))
}

func TestSimplePlanner_TieBreak(t *testing.T) {
	p := &SimplePlanner{}
	s := Snapshot{
		Now: t0,
		Pending: []JobView{
			job("zeta", tts, time.Second),
			job("beta", speaks, 0),
			job("alpha", asr, 0),
		},
	}
	// Same received time: task id decides
	assert.Equal(t, Action{Kind: ActionWarmUp, Key: asr}, p.NextAction(s))

	// alpha's instance is starting, beta is next
	s.Instances = []InstanceView{instance("i1", asr, types.InstanceStarting, 0)}
	assert.Equal(t, Action{Kind: ActionWarmUp, Key: speaks}, p.NextAction(s))
}

func TestSimplePlanner_IdleTimeout(t *testing.T) {
	p := &SimplePlanner{IdleTimeout: time.Minute}
	s := Snapshot{
		Now:       t0.Add(30 * time.Second),
		Instances: []InstanceView{instance("i1", asr, types.InstanceWarm, 0)},
	}
	assert.Equal(t, Wait, p.NextAction(s))

	s.Now = t0.Add(time.Minute)
	assert.Equal(t, Action{Kind: ActionCoolDown, Key: asr, InstanceID: "i1"}, p.NextAction(s))
}

func TestSimplePlanner_CoolDownBeforeAssign(t *testing.T) {
	p := &SimplePlanner{MaxInstances: 1}
	s := Snapshot{
		Now:       t0,
		Pending:   []JobView{job("a", asr, 0)},
		Instances: []InstanceView{instance("i1", tts, types.InstanceWarm, 0)},
	}
	// The idle tts instance blocks capacity and is released first
	assert.Equal(t, Action{Kind: ActionCoolDown, Key: tts, InstanceID: "i1"}, p.NextAction(s))

	s.Instances[0].State = types.InstanceCoolingDown
	assert.Equal(t, Wait, p.NextAction(s), "capacity is still held while cooling down")

	s.Instances = nil
	assert.Equal(t, Action{Kind: ActionWarmUp, Key: asr}, p.NextAction(s))
}

func TestSimplePlanner_IgnoresFailedInstances(t *testing.T) {
	p := &SimplePlanner{}
	s := Snapshot{
		Now:       t0,
		Pending:   []JobView{job("a", asr, 0)},
		Instances: []InstanceView{instance("dead", asr, types.InstanceFailed, 0)},
	}
	assert.Equal(t, Action{Kind: ActionWarmUp, Key: asr}, p.NextAction(s))
}

func TestSimplePlanner_SequentialTasksEachGetACycle(t *testing.T) {
	p := &SimplePlanner{}
	var actions []ActionKind

	for i, id := range []string{"t1", "t2", "t3"} {
		s := Snapshot{Now: t0, Pending: []JobView{job(id, asr, time.Duration(i))}}
		a := p.NextAction(s)
		actions = append(actions, a.Kind)

		s.Instances = []InstanceView{instance("i-"+id, asr, types.InstanceWarm, 0)}
		a = p.NextAction(s)
		actions = append(actions, a.Kind)

		s.Pending = nil
		a = p.NextAction(s)
		actions = append(actions, a.Kind)
	}

	assert.Equal(t, []ActionKind{
		ActionWarmUp, ActionAssign, ActionCoolDown,
		ActionWarmUp, ActionAssign, ActionCoolDown,
		ActionWarmUp, ActionAssign, ActionCoolDown,
	}, actions)
}

func TestAlwaysOnPlanner(t *testing.T) {
	p := &AlwaysOnPlanner{Keys: []types.InstanceKey{tts, asr, tts}}

	assert.Equal(t, []Action{
		{Kind: ActionWarmUp, Key: tts},
		{Kind: ActionWarmUp, Key: asr},
	}, p.StartupActions())

	assert.True(t, p.Admits(asr))
	assert.False(t, p.Admits(speaks))

	s := Snapshot{
		Now:       t0.Add(24 * time.Hour),
		Instances: []InstanceView{instance("i1", asr, types.InstanceWarm, 0)},
	}
	assert.Equal(t, Wait, p.NextAction(s), "idle instances are never cooled down")

	s.Pending = []JobView{job("a", asr, 0), job("b", tts, 0)}
	assert.Equal(t, Action{Kind: ActionAssign, TaskID: "a", Key: asr, InstanceID: "i1"}, p.NextAction(s))

	s.Instances[0].State = types.InstanceBusy
	assert.Equal(t, Wait, p.NextAction(s), "no warm-up outside startup")
}

func TestNew(t *testing.T) {
	p, err := New(Config{Policy: PolicySimple, IdleTimeout: time.Second, MaxInstances: 2})
	require.NoError(t, err)
	assert.Equal(t, &SimplePlanner{IdleTimeout: time.Second, MaxInstances: 2}, p)

	p, err = New(Config{Policy: PolicyAlwaysOn, Keys: []types.InstanceKey{asr}})
	require.NoError(t, err)
	_, ok := p.(StartupPlanner)
	assert.True(t, ok)
	_, ok = p.(Admitter)
	assert.True(t, ok)

	_, err = New(Config{Policy: "round-robin"})
	assert.Error(t, err)

	_, err = New(Config{IdleTimeout: -time.Second})
	assert.Error(t, err)
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "warm up whisper/en", Action{Kind: ActionWarmUp, Key: asr}.String())
	assert.Equal(t, "assign a to piper (i1)", Action{Kind: ActionAssign, TaskID: "a", Key: tts, InstanceID: "i1"}.String())
	assert.Equal(t, "wait", Wait.String())
}
