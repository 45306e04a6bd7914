package db

import (
	"database/sql"
	"os"

	"github.com/stupiduntilnot/relaybot/internal/logger"
)

// Journal records relay events under a single process.started root. Writes
// are best effort: failures are logged and reported as id 0.
type Journal struct {
	db     *sql.DB
	rootID int64
}

// NewJournal logs process.started and returns a journal rooted at it.
func NewJournal(db *sql.DB, payload map[string]any) (*Journal, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	if _, ok := payload["pid"]; !ok {
		payload["pid"] = os.Getpid()
	}
	id, err := LogEvent(db, nil, EventProcessStarted, payload)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db, rootID: id}, nil
}

// RootID returns the id of the process.started event.
func (j *Journal) RootID() int64 { return j.rootID }

// Record logs an event under parentID, or under the process root when
// parentID is 0.
func (j *Journal) Record(parentID int64, eventType string, payload map[string]any) int64 {
	if parentID == 0 {
		parentID = j.rootID
	}
	id, err := LogEvent(j.db, &parentID, eventType, payload)
	if err != nil {
		logger.Warn().Err(err).Str("event_type", eventType).Msg("journal write failed")
		return 0
	}
	return id
}
