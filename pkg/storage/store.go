package storage

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cuemby/brainbox/pkg/types"
)

// ErrOutOfSequence is returned when an appended bus message id is not last+1
var ErrOutOfSequence = errors.New("message id out of sequence")

// Store defines the interface for durable job and bus state
type Store interface {
	// Jobs
	SaveJob(job *types.Job) error
	GetJob(taskID string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)

	// Bus messages
	AppendMessage(msg *types.BusMessage) error
	ListMessages(session string, afterID int64) ([]*types.BusMessage, error)
	LastMessageID(session string) (int64, error)

	// Utility
	Close() error
}

// Supported store drivers
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open creates the store selected by driver; path is a data directory for
// bolt and a database file for sqlite.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverBolt, "":
		return NewBoltStore(path)
	case DriverSQLite:
		return NewSQLiteStore(path)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// sortJobs orders jobs by creation time, then task id
func sortJobs(jobs []*types.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].TaskID < jobs[j].TaskID
	})
}

func checkSequence(last int64, msg *types.BusMessage) error {
	if msg.ID != last+1 {
		return fmt.Errorf("session %s: got id %d after %d: %w", msg.Session, msg.ID, last, ErrOutOfSequence)
	}
	return nil
}
