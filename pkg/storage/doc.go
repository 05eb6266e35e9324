/*
Package storage persists BrainBox jobs and bus messages.

Job records and the per-session message log must survive a restart of the
orchestrating process, and bus sequence ids must stay strictly increasing and
gapless per session across restarts. Every backend implements the same Store
interface and enforces the sequence rule itself: AppendMessage rejects any id
that is not the session's last id plus one with ErrOutOfSequence.

# Backends

	┌───────────────────── STORAGE ──────────────────────┐
	│                                                     │
	│  BoltStore (default)   <dataDir>/brainbox.db        │
	│    jobs       task id -> JSON job                   │
	│    sessions   one nested bucket per session,        │
	│               big-endian id -> JSON message         │
	│                                                     │
	│  SQLiteStore           single database file         │
	│    jobs(task_id, status, data, created_at)          │
	│    bus_messages(session, id, ...) PK(session, id)   │
	│                                                     │
	│  MemoryStore           maps behind a RWMutex        │
	└─────────────────────────────────────────────────────┘

Big-endian keys keep bolt's cursor order equal to id order, so "everything
after id N" is a single Seek.

# Usage

	store, err := storage.Open(storage.DriverBolt, "/var/lib/brainbox")
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveJob(job); err != nil {
		return err
	}
	msgs, err := store.ListMessages("kitchen-speaker", 41)

Lookups of missing jobs wrap types.ErrNotFound.
*/
package storage
