package runner

import (
	"fmt"
	"time"

	"github.com/cuemby/brainbox/pkg/events"
	"github.com/cuemby/brainbox/pkg/metrics"
	"github.com/cuemby/brainbox/pkg/types"
)

// Job transitions. All of them run with r.mu held.

// receive creates the Received job of an admitted task
func (r *Runner) receive(task *types.Task, now time.Time) {
	job := types.NewJob(task, now)
	job.Status = types.JobStatusReceived
	job.ReceivedAt = now

	r.jobs[job.TaskID] = job
	r.done[job.TaskID] = make(chan struct{})
	r.pending[job.TaskID] = job
	for _, p := range job.Prerequisites {
		r.dependents[p] = append(r.dependents[p], job.TaskID)
	}

	r.save(job)
	r.publishJob(events.EventJobReceived, job)

	for _, p := range job.Prerequisites {
		if prereq := r.jobs[p]; prereq != nil && prereq.Status == types.JobStatusFailed {
			r.failJob(job, fmt.Errorf("%w: %s", types.ErrDependencyFailed, p))
			return
		}
	}
}

// eligible reports whether every prerequisite of a job has finished
func (r *Runner) eligible(job *types.Job) bool {
	for _, p := range job.Prerequisites {
		prereq, ok := r.jobs[p]
		if !ok || prereq.Status != types.JobStatusFinished {
			return false
		}
	}
	return true
}

// dependencies collects the results of a job's prerequisites
func (r *Runner) dependencies(job *types.Job) map[string]any {
	if len(job.Prerequisites) == 0 {
		return nil
	}
	deps := make(map[string]any, len(job.Prerequisites))
	for _, p := range job.Prerequisites {
		if prereq, ok := r.jobs[p]; ok {
			deps[p] = prereq.Result
		}
	}
	return deps
}

func (r *Runner) assignJob(job *types.Job, instanceID string) {
	now := r.now()
	job.Status = types.JobStatusAssigned
	job.AssignedAt = now
	job.InstanceID = instanceID
	delete(r.pending, job.TaskID)

	r.save(job)
	r.publishJob(events.EventJobAssigned, job)
	metrics.ObserveSpan(metrics.QueueLatency, job.ReceivedAt, now, job.Decider)
}

// acceptJob marks an Assigned job as handed to the decider. It returns false
// when the job was failed in the meantime and must not be invoked.
func (r *Runner) acceptJob(taskID string) bool {
	job, ok := r.jobs[taskID]
	if !ok || job.Status != types.JobStatusAssigned {
		return false
	}
	job.Status = types.JobStatusAccepted
	job.AcceptedAt = r.now()

	r.save(job)
	r.publishJob(events.EventJobAccepted, job)
	return true
}

func (r *Runner) finishJob(job *types.Job, result any) {
	if job.Status.Terminal() {
		return
	}
	job.Status = types.JobStatusFinished
	job.FinishedAt = r.now()
	job.Result = result
	r.terminal(job, events.EventJobFinished)
}

// failJob records err on a job and cascades the failure to its dependents
func (r *Runner) failJob(job *types.Job, err error) {
	if job.Status.Terminal() {
		return
	}
	job.Status = types.JobStatusFailed
	job.FinishedAt = r.now()
	job.Error = types.NewJobError(job, err)
	r.terminal(job, events.EventJobFailed)

	for _, id := range r.dependents[job.TaskID] {
		if dep, ok := r.jobs[id]; ok {
			r.failJob(dep, fmt.Errorf("%w: %s", types.ErrDependencyFailed, job.TaskID))
		}
	}
}

func (r *Runner) terminal(job *types.Job, typ events.EventType) {
	delete(r.pending, job.TaskID)

	r.save(job)
	r.publishJob(typ, job)
	if done, ok := r.done[job.TaskID]; ok {
		close(done)
	}

	metrics.JobsTotal.WithLabelValues(job.Decider, string(job.Status)).Inc()
	metrics.ObserveSpan(metrics.JobLatency, job.ReceivedAt, job.FinishedAt, job.Decider)
}

func (r *Runner) save(job *types.Job) {
	if err := r.store.SaveJob(job.Clone()); err != nil {
		r.logger.Error().Err(err).Str("task_id", job.TaskID).Msg("Failed to persist job")
	}
}

func (r *Runner) publishJob(typ events.EventType, job *types.Job) {
	msg := fmt.Sprintf("job %s is %s", job.TaskID, job.Status)
	if job.Error != nil {
		msg = fmt.Sprintf("job %s failed: %s", job.TaskID, job.Error.Message)
	}
	r.publish(&events.Event{
		Type:     typ,
		Message:  msg,
		Metadata: map[string]string{"task_id": job.TaskID, "decider": job.Decider},
		Job:      job.Clone(),
	})
}
