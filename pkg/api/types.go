package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/brainbox/pkg/types"
)

// TaskRequest is the wire form of a task; Timeout is a Go duration string
type TaskRequest struct {
	ID            string   `json:"id,omitempty"`
	Decider       string   `json:"decider"`
	Method        string   `json:"method"`
	Arguments     []any    `json:"arguments,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Parameter     string   `json:"parameter,omitempty"`
	Session       string   `json:"session,omitempty"`
	Timeout       string   `json:"timeout,omitempty"`
}

// Task converts the request into a task
func (r TaskRequest) Task() (*types.Task, error) {
	task := &types.Task{
		ID:            r.ID,
		Decider:       r.Decider,
		Method:        r.Method,
		Arguments:     r.Arguments,
		Prerequisites: r.Prerequisites,
		Parameter:     r.Parameter,
		Session:       r.Session,
	}
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return nil, &types.TaskGraphError{TaskID: r.ID, Reason: fmt.Sprintf("invalid timeout %q", r.Timeout)}
		}
		task.Timeout = d
	}
	return task, nil
}

// SubmitRequest is the body of POST /tasks
type SubmitRequest struct {
	Tasks []TaskRequest `json:"tasks"`
}

// SubmitResponse lists the admitted job ids in request order
type SubmitResponse struct {
	JobIDs []string `json:"job_ids"`
}

// PushResponse is the id assigned to a pushed bus message
type PushResponse struct {
	ID int64 `json:"id"`
}

// InstallResponse reports the installation status after an install request
type InstallResponse struct {
	Name   string                   `json:"name"`
	Status types.InstallationStatus `json:"status"`
	Error  string                   `json:"error,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Update is the wire form of a bus message in an updates response. The
// session is implied by the request path.
type Update struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// NewUpdates converts bus messages into their wire form
func NewUpdates(msgs []*types.BusMessage) []Update {
	out := make([]Update, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Update{ID: m.ID, Timestamp: m.Timestamp, Type: m.Type, Payload: m.Payload})
	}
	return out
}
