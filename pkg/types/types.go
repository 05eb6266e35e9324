package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task is an immutable request to call a method on a decider
type Task struct {
	ID            string        `json:"id"`
	Decider       string        `json:"decider"`
	Method        string        `json:"method"`
	Arguments     []any         `json:"arguments,omitempty"`
	Prerequisites []string      `json:"prerequisites,omitempty"`
	Parameter     string        `json:"parameter,omitempty"` // Selects the decider instance
	Session       string        `json:"session,omitempty"`   // Bus session for async result delivery
	Timeout       time.Duration `json:"timeout,omitempty"`   // Overrides the default invocation timeout
}

// Key returns the decider instance the task runs on
func (t *Task) Key() InstanceKey {
	return InstanceKey{Decider: t.Decider, Parameter: t.Parameter}
}

// JobStatus represents the lifecycle position of a job
type JobStatus string

const (
	JobStatusCreated  JobStatus = "created"
	JobStatusReceived JobStatus = "received"
	JobStatusAssigned JobStatus = "assigned"
	JobStatusAccepted JobStatus = "accepted"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether no further transition is possible
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// Job is the mutable execution record of one task
type Job struct {
	TaskID        string        `json:"task_id"`
	Decider       string        `json:"decider"`
	Method        string        `json:"method"`
	Parameter     string        `json:"parameter,omitempty"`
	Arguments     []any         `json:"arguments,omitempty"`
	Prerequisites []string      `json:"prerequisites,omitempty"`
	Session       string        `json:"session,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Status        JobStatus     `json:"status"`
	InstanceID    string        `json:"instance_id,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
	AssignedAt time.Time `json:"assigned_at,omitempty"`
	AcceptedAt time.Time `json:"accepted_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	Result any       `json:"result,omitempty"`
	Error  *JobError `json:"error,omitempty"`
}

// NewJob creates the execution record for a task
func NewJob(task *Task, now time.Time) *Job {
	return &Job{
		TaskID:        task.ID,
		Decider:       task.Decider,
		Method:        task.Method,
		Parameter:     task.Parameter,
		Arguments:     task.Arguments,
		Prerequisites: append([]string(nil), task.Prerequisites...),
		Session:       task.Session,
		Timeout:       task.Timeout,
		Status:        JobStatusCreated,
		CreatedAt:     now,
	}
}

// Key returns the decider instance the job runs on
func (j *Job) Key() InstanceKey {
	return InstanceKey{Decider: j.Decider, Parameter: j.Parameter}
}

// Clone returns a copy that shares no slices with the original
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Prerequisites = append([]string(nil), j.Prerequisites...)
	cp.Arguments = append([]any(nil), j.Arguments...)
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}

// JobError is the captured failure of a job, with enough context to reproduce the call
type JobError struct {
	Kind      string `json:"kind"`
	Decider   string `json:"decider"`
	Method    string `json:"method"`
	Arguments []any  `json:"arguments,omitempty"`
	Message   string `json:"message"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s.%s: %s", e.Kind, e.Decider, e.Method, e.Message)
}

// InstanceKey identifies a decider instance: one running unit per decider and parameter
type InstanceKey struct {
	Decider   string `json:"decider"`
	Parameter string `json:"parameter,omitempty"`
}

func (k InstanceKey) String() string {
	if k.Parameter == "" {
		return k.Decider
	}
	return k.Decider + "/" + k.Parameter
}

// Less orders keys by decider then parameter
func (k InstanceKey) Less(o InstanceKey) bool {
	if k.Decider != o.Decider {
		return k.Decider < o.Decider
	}
	return k.Parameter < o.Parameter
}

// InstanceState represents the lifecycle state of a decider instance
type InstanceState string

const (
	InstanceUninstalled   InstanceState = "uninstalled"
	InstanceInstalling    InstanceState = "installing"
	InstanceInstalled     InstanceState = "installed"
	InstanceInstallFailed InstanceState = "install_failed"
	InstanceStarting      InstanceState = "starting"
	InstanceWarm          InstanceState = "warm"
	InstanceBusy          InstanceState = "busy"
	InstanceCoolingDown   InstanceState = "cooling_down"
	InstanceFailed        InstanceState = "failed"
)

// Terminal reports whether the instance must be discarded
func (s InstanceState) Terminal() bool {
	return s == InstanceFailed || s == InstanceInstallFailed
}

// Live reports whether the instance holds (or is acquiring) a running container
func (s InstanceState) Live() bool {
	switch s {
	case InstanceStarting, InstanceWarm, InstanceBusy, InstanceCoolingDown:
		return true
	}
	return false
}

// Handle is the opaque runtime reference of an instance
type Handle struct {
	ContainerID string `json:"container_id,omitempty"`
	Address     string `json:"address,omitempty"` // host:port of the published service
}

// Instance is one running or stoppable unit of a controller
type Instance struct {
	ID           string        `json:"id"`
	Key          InstanceKey   `json:"key"`
	State        InstanceState `json:"state"`
	Handle       Handle        `json:"handle"`
	StartedAt    time.Time     `json:"started_at"`
	LastActivity time.Time     `json:"last_activity"`
	Reason       string        `json:"reason,omitempty"` // Why the instance failed
}

// InstallationStatus tracks whether a controller's image is available
type InstallationStatus string

const (
	NotInstalled  InstallationStatus = "not_installed"
	Installing    InstallationStatus = "installing"
	Installed     InstallationStatus = "installed"
	InstallFailed InstallationStatus = "install_failed"
)

// BusMessage is an append-only entry of a session's message log
type BusMessage struct {
	Session   string          `json:"session"`
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// EntryVersion is the current version of the container entry document
const EntryVersion = 1

// EntryDocument is handed to the fixed entry command inside a decider image
type EntryDocument struct {
	Version   int    `json:"version"`
	Decider   string `json:"decider"`
	Parameter string `json:"parameter,omitempty"`
	Port      int    `json:"port,omitempty"`
}

// RunConfiguration is everything needed to start a container instance
type RunConfiguration struct {
	Parameter    string            `json:"parameter,omitempty"`
	Image        string            `json:"image"`
	PublishPorts map[int]int       `json:"publish_ports,omitempty"` // host port -> container port
	Env          map[string]string `json:"env,omitempty"`
	Command      []string          `json:"command,omitempty"`
	Entry        EntryDocument     `json:"entry"`
}

// BuildSpec describes how to produce a decider image
type BuildSpec struct {
	Context    string            `json:"context,omitempty" yaml:"context"`
	Dockerfile string            `json:"dockerfile,omitempty" yaml:"dockerfile"`
	Args       map[string]string `json:"args,omitempty" yaml:"args"`
}
