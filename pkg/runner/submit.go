package runner

import (
	"context"
	"fmt"
	"sort"

	"github.com/cuemby/brainbox/pkg/metrics"
	"github.com/cuemby/brainbox/pkg/planner"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/gammazero/toposort"
	"github.com/google/uuid"
)

// Submit admits a batch of tasks and returns their job ids in the order given.
// Tasks may depend on each other or on previously submitted jobs. The whole
// batch is rejected when any task targets an unknown decider, carries
// parameters its controller refuses, or the prerequisite graph is malformed.
// A task whose prerequisite already failed is admitted and failed at once.
func (r *Runner) Submit(ctx context.Context, tasks ...*types.Task) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, &types.TaskGraphError{Reason: "no tasks submitted"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, ErrStopped
	}

	batch, ids, err := r.validate(tasks)
	if err != nil {
		return nil, err
	}
	order, err := admissionOrder(batch, ids)
	if err != nil {
		return nil, err
	}

	now := r.now()
	for _, id := range order {
		r.receive(batch[id], now)
	}
	metrics.JobsSubmitted.Add(float64(len(order)))

	r.Wake()
	return ids, nil
}

// validate checks every task of a batch; the caller holds r.mu
func (r *Runner) validate(tasks []*types.Task) (map[string]*types.Task, []string, error) {
	batch := make(map[string]*types.Task, len(tasks))
	ids := make([]string, 0, len(tasks))
	admitter, _ := r.planner.(planner.Admitter)

	for _, t := range tasks {
		if t == nil {
			return nil, nil, &types.TaskGraphError{Reason: "nil task"}
		}
		task := *t
		task.Prerequisites = append([]string(nil), t.Prerequisites...)
		if task.ID == "" {
			task.ID = uuid.New().String()
		}

		if _, dup := batch[task.ID]; dup {
			return nil, nil, &types.TaskGraphError{TaskID: task.ID, Reason: "duplicate task id"}
		}
		if _, exists := r.jobs[task.ID]; exists {
			return nil, nil, &types.TaskGraphError{TaskID: task.ID, Reason: "a job with this id already exists"}
		}
		if task.Method == "" {
			return nil, nil, &types.TaskGraphError{TaskID: task.ID, Reason: "method is required"}
		}
		if task.Timeout < 0 {
			return nil, nil, &types.TaskGraphError{TaskID: task.ID, Reason: "timeout must not be negative"}
		}

		ctrl, err := r.registry.Get(task.Decider)
		if err != nil {
			return nil, nil, err
		}
		if _, err := ctrl.RunConfiguration(task.Parameter); err != nil {
			return nil, nil, err
		}
		if admitter != nil && !admitter.Admits(task.Key()) {
			return nil, nil, &types.ConfigurationError{
				Decider: task.Decider,
				Reason:  fmt.Sprintf("the %s planner does not serve %s", r.planner.Name(), task.Key()),
			}
		}

		batch[task.ID] = &task
		ids = append(ids, task.ID)
	}

	for _, id := range ids {
		for _, p := range batch[id].Prerequisites {
			if p == id {
				return nil, nil, &types.TaskGraphError{TaskID: id, Reason: "task depends on itself"}
			}
			_, inBatch := batch[p]
			_, known := r.jobs[p]
			if !inBatch && !known {
				return nil, nil, &types.TaskGraphError{TaskID: id, Reason: fmt.Sprintf("unknown prerequisite %q", p)}
			}
		}
	}
	return batch, ids, nil
}

// admissionOrder sorts a batch so prerequisites come before their dependents
func admissionOrder(batch map[string]*types.Task, ids []string) ([]string, error) {
	edges := make([]toposort.Edge, 0, len(ids))
	for _, id := range ids {
		// Edge from nil keeps tasks without in-batch prerequisites in the result
		edges = append(edges, toposort.Edge{nil, id})
		for _, p := range batch[id].Prerequisites {
			if _, ok := batch[p]; ok {
				edges = append(edges, toposort.Edge{p, id})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, &types.TaskGraphError{Reason: fmt.Sprintf("prerequisites contain a cycle: %v", err)}
	}

	order := make([]string, 0, len(ids))
	for _, v := range sorted {
		if id, ok := v.(string); ok {
			order = append(order, id)
		}
	}
	if len(order) != len(ids) {
		return nil, &types.TaskGraphError{Reason: "prerequisites contain a cycle"}
	}
	return order, nil
}

// Job returns a snapshot of a job
func (r *Runner) Job(id string) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}
	return job.Clone(), nil
}

// Jobs returns snapshots of every job ordered by creation time, then id
func (r *Runner) Jobs() []*types.Job {
	r.mu.Lock()
	out := make([]*types.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// Wait blocks until a job is terminal or ctx is done
func (r *Runner) Wait(ctx context.Context, id string) (*types.Job, error) {
	r.mu.Lock()
	done, ok := r.done[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}

	select {
	case <-done:
		return r.Job(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Execute submits a single task and waits for it. A failed job is returned
// as its *types.JobError.
func (r *Runner) Execute(ctx context.Context, task *types.Task) (any, error) {
	ids, err := r.Submit(ctx, task)
	if err != nil {
		return nil, err
	}
	job, err := r.Wait(ctx, ids[0])
	if err != nil {
		return nil, err
	}
	if job.Status == types.JobStatusFailed {
		if job.Error == nil {
			return nil, fmt.Errorf("job %s failed", job.TaskID)
		}
		return nil, job.Error
	}
	return job.Result, nil
}
