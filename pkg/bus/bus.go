package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/brainbox/pkg/log"
	"github.com/cuemby/brainbox/pkg/metrics"
	"github.com/cuemby/brainbox/pkg/storage"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/rs/zerolog"
)

// ErrInvalidSession is returned for an empty session id
var ErrInvalidSession = errors.New("session id is required")

// session serializes appends to one session's log
type session struct {
	mu     sync.Mutex
	loaded bool
	last   int64

	// changed is closed and replaced whenever a message is appended
	changed chan struct{}
}

// Bus is an append-only message log per session. Ids start at 1 and are
// strictly increasing and gapless within a session, also across restarts.
type Bus struct {
	store  storage.Store
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a bus over store
func New(store storage.Store) *Bus {
	return &Bus{
		store:    store,
		logger:   log.WithComponent("bus"),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

func (b *Bus) session(id string) *session {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[id]
	if !ok {
		s = &session{changed: make(chan struct{})}
		b.sessions[id] = s
	}
	return s
}

// load seeds the session counter from the store; the caller holds s.mu
func (b *Bus) load(id string, s *session) error {
	if s.loaded {
		return nil
	}
	last, err := b.store.LastMessageID(id)
	if err != nil {
		return fmt.Errorf("failed to read last message id of %s: %w", id, err)
	}
	s.last = last
	s.loaded = true
	return nil
}

// Push appends a message and returns its id. An empty payload is stored as
// JSON null.
func (b *Bus) Push(sessionID, typ string, payload json.RawMessage) (int64, error) {
	if sessionID == "" {
		return 0, ErrInvalidSession
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return 0, fmt.Errorf("payload is not valid JSON")
	}

	s := b.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := b.load(sessionID, s); err != nil {
		return 0, err
	}

	msg := &types.BusMessage{
		Session:   sessionID,
		ID:        s.last + 1,
		Timestamp: b.now(),
		Type:      typ,
		Payload:   append(json.RawMessage(nil), payload...),
	}
	if err := b.store.AppendMessage(msg); err != nil {
		// The store may have been written by someone else; reseed next time
		s.loaded = false
		return 0, fmt.Errorf("failed to append message: %w", err)
	}

	s.last = msg.ID
	close(s.changed)
	s.changed = make(chan struct{})

	metrics.BusMessagesTotal.WithLabelValues(typ).Inc()
	b.logger.Debug().Str("session", sessionID).Int64("id", msg.ID).Str("type", typ).Msg("Message pushed")
	return msg.ID, nil
}

// PushValue marshals v and pushes it
func (b *Bus) PushValue(sessionID, typ string, v any) (int64, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}
	return b.Push(sessionID, typ, payload)
}

// Updates returns the messages of a session with an id greater than lastID
func (b *Bus) Updates(sessionID string, lastID int64) ([]*types.BusMessage, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	msgs, err := b.store.ListMessages(sessionID, lastID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if msgs == nil {
		msgs = []*types.BusMessage{}
	}
	return msgs, nil
}

// Wait is a long poll: it returns as soon as the session has messages after
// lastID, or an empty list when ctx is done first.
func (b *Bus) Wait(ctx context.Context, sessionID string, lastID int64) ([]*types.BusMessage, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	s := b.session(sessionID)

	for {
		s.mu.Lock()
		if err := b.load(sessionID, s); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		last, changed := s.last, s.changed
		s.mu.Unlock()

		if last > lastID {
			return b.Updates(sessionID, lastID)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return []*types.BusMessage{}, nil
		}
	}
}

// LastID returns the id of the newest message of a session, 0 if none
func (b *Bus) LastID(sessionID string) (int64, error) {
	s := b.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := b.load(sessionID, s); err != nil {
		return 0, err
	}
	return s.last, nil
}
