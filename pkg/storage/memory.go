package storage

import (
	"fmt"
	"sync"

	"github.com/cuemby/brainbox/pkg/types"
)

// MemoryStore is a non-durable Store for tests and ephemeral deployments
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*types.Job
	messages map[string][]*types.BusMessage
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*types.Job),
		messages: make(map[string][]*types.BusMessage),
	}
}

func (s *MemoryStore) SaveJob(job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.TaskID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(taskID string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[taskID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", taskID, types.ErrNotFound)
	}
	return job.Clone(), nil
}

func (s *MemoryStore) ListJobs() ([]*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*types.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	sortJobs(jobs)
	return jobs, nil
}

func (s *MemoryStore) AppendMessage(msg *types.BusMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.messages[msg.Session]
	if err := checkSequence(int64(len(log)), msg); err != nil {
		return err
	}
	cp := *msg
	s.messages[msg.Session] = append(log, &cp)
	return nil
}

func (s *MemoryStore) ListMessages(session string, afterID int64) ([]*types.BusMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.messages[session]
	if afterID < 0 {
		afterID = 0
	}
	msgs := []*types.BusMessage{}
	// ids are gapless from 1, so id n lives at index n-1
	for i := int(min(afterID, int64(len(log)))); i < len(log); i++ {
		cp := *log[i]
		msgs = append(msgs, &cp)
	}
	return msgs, nil
}

func (s *MemoryStore) LastMessageID(session string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.messages[session])), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
