package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/brainbox/pkg/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store at dbPath, creating parent
// directories as needed. WAL mode and a busy timeout are enabled.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer keeps AppendMessage's read-check-insert atomic
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		task_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at, task_id);

	CREATE TABLE IF NOT EXISTS bus_messages (
		session TEXT NOT NULL,
		id INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (session, id)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveJob upserts a job record
func (s *SQLiteStore) SaveJob(job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO jobs (task_id, status, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data
	`, job.TaskID, string(job.Status), string(data), job.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

// GetJob loads a job by task id
func (s *SQLiteStore) GetJob(taskID string) (*types.Job, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM jobs WHERE task_id = ?`, taskID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", taskID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}

	var job types.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

// ListJobs returns every job in creation order
func (s *SQLiteStore) ListJobs() ([]*types.Job, error) {
	rows, err := s.db.Query(`SELECT data FROM jobs ORDER BY created_at, task_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		var job types.Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// AppendMessage inserts msg if its id directly follows the session's last id
func (s *SQLiteStore) AppendMessage(msg *types.BusMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM bus_messages WHERE session = ?`, msg.Session).Scan(&last); err != nil {
		return fmt.Errorf("failed to read last message id: %w", err)
	}
	if err := checkSequence(last, msg); err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO bus_messages (session, id, timestamp, type, payload)
		VALUES (?, ?, ?, ?, ?)
	`, msg.Session, msg.ID, msg.Timestamp.UnixNano(), msg.Type, string(msg.Payload))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListMessages returns the session's messages with id > afterID in id order
func (s *SQLiteStore) ListMessages(session string, afterID int64) ([]*types.BusMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, type, payload FROM bus_messages
		WHERE session = ? AND id > ?
		ORDER BY id
	`, session, afterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs := []*types.BusMessage{}
	for rows.Next() {
		var (
			msg     = types.BusMessage{Session: session}
			ts      int64
			payload string
		)
		if err := rows.Scan(&msg.ID, &ts, &msg.Type, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Timestamp = time.Unix(0, ts).UTC()
		msg.Payload = json.RawMessage(payload)
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// LastMessageID returns the highest id of a session, 0 when it has none
func (s *SQLiteStore) LastMessageID(session string) (int64, error) {
	var last int64
	err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM bus_messages WHERE session = ?`, session).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to read last message id: %w", err)
	}
	return last, nil
}
