package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/brainbox/pkg/planner"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/prop"
)

var batchSeq atomic.Int64

// genTaskGraph generates a random acyclic batch of tasks, shuffled so that
// dependents may be listed before their prerequisites
func genTaskGraph() gopter.Gen {
	return func(genParams *gopter.GenParameters) *gopter.GenResult {
		batch := batchSeq.Add(1)
		n := 1 + genParams.Rng.Intn(7)

		tasks := make([]*types.Task, n)
		for i := range tasks {
			method := "sum"
			if genParams.Rng.Intn(4) == 0 {
				method = "fail"
			}
			task := &types.Task{
				ID:        fmt.Sprintf("g%d-%d", batch, i),
				Decider:   "math",
				Method:    method,
				Arguments: []any{float64(i)},
			}
			for j := 0; j < i; j++ {
				if genParams.Rng.Intn(3) == 0 {
					task.Prerequisites = append(task.Prerequisites, tasks[j].ID)
				}
			}
			tasks[i] = task
		}
		genParams.Rng.Shuffle(n, func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })
		return gopter.NewGenResult(tasks, gopter.NoShrinker)
	}
}

func TestRunner_TaskGraphProperties(t *testing.T) {
	env := newTestEnv(t, &planner.SimplePlanner{}, nil, mathDecider())

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("every job ends and dependencies are respected", prop.ForAll(
		func(tasks []*types.Task) string {
			ids, err := env.runner.Submit(context.Background(), tasks...)
			if err != nil {
				return "submit: " + err.Error()
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			jobs := make(map[string]*types.Job, len(ids))
			for _, id := range ids {
				job, err := env.runner.Wait(ctx, id)
				if err != nil {
					return fmt.Sprintf("job %s never finished: %v", id, err)
				}
				jobs[id] = job
			}

			for _, job := range jobs {
				prereqFailed := false
				for _, p := range job.Prerequisites {
					prereq := jobs[p]
					if prereq.Status == types.JobStatusFailed {
						prereqFailed = true
						continue
					}
					if !job.AssignedAt.IsZero() && job.AssignedAt.Before(prereq.FinishedAt) {
						return fmt.Sprintf("%s assigned before %s finished", job.TaskID, p)
					}
				}

				switch {
				case prereqFailed:
					if job.Status != types.JobStatusFailed || !job.AcceptedAt.IsZero() {
						return fmt.Sprintf("%s should have failed without being accepted", job.TaskID)
					}
				case job.Method == "fail":
					if job.Status != types.JobStatusFailed || job.Error.Kind != types.KindDeciderInvocation {
						return fmt.Sprintf("%s should have failed in the decider", job.TaskID)
					}
				default:
					if job.Status != types.JobStatusFinished {
						return fmt.Sprintf("%s should have finished, got %s", job.TaskID, job.Status)
					}
				}
			}
			return ""
		},
		genTaskGraph(),
	))

	properties.TestingRun(t)
}
