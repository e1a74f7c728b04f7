// Package audit keeps a bounded trail of billing actions.
package audit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claimsense/claimsense/internal/platform/jsonstore"
)

// DefaultRetention is the number of entries kept when no limit is given.
const DefaultRetention = 1000

type Actor string

const (
	ActorSystem Actor = "system"
	ActorAI     Actor = "ai"
	ActorUser   Actor = "user"
)

var ErrInvalid = errors.New("invalid audit entry")

// Entry is one recorded action.
type Entry struct {
	ID       string         `json:"id"`
	LoggedAt time.Time      `json:"timestamp"`
	Action   string         `json:"action"`
	ClaimID  string         `json:"claim_id,omitempty"`
	NoteID   string         `json:"note_id,omitempty"`
	Details  map[string]any `json:"details"`
	Actor    Actor          `json:"actor"`
}

func (e Entry) Key() string          { return e.ID }
func (e Entry) Timestamp() time.Time { return e.LoggedAt }

// Recorder is implemented by anything that can persist an audit entry.
type Recorder interface {
	Record(e Entry) (Entry, error)
}

// Log is a file-backed audit trail. Entries beyond the retention limit are
// evicted oldest first.
type Log struct {
	store  *jsonstore.Collection[Entry]
	logger zerolog.Logger
	now    func() time.Time
}

// Open loads or creates the audit log at path.
func Open(path string, retention int, logger zerolog.Logger) (*Log, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	logger = logger.With().Str("component", "audit").Logger()
	store, err := jsonstore.Open[Entry](path, jsonstore.WithLimit(retention), jsonstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Log{store: store, logger: logger, now: time.Now}, nil
}

// Record assigns an id and timestamp to e and stores it. Actor defaults to
// system.
func (l *Log) Record(e Entry) (Entry, error) {
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		return Entry{}, fmt.Errorf("%w: action is required", ErrInvalid)
	}
	switch e.Actor {
	case "":
		e.Actor = ActorSystem
	case ActorSystem, ActorAI, ActorUser:
	default:
		return Entry{}, fmt.Errorf("%w: unknown actor %q", ErrInvalid, e.Actor)
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.ID = "LOG-" + uuid.NewString()
	e.LoggedAt = l.now().UTC()

	if err := l.store.Insert(e); err != nil {
		return Entry{}, fmt.Errorf("record audit entry: %w", err)
	}
	l.logger.Debug().
		Str("action", e.Action).
		Str("claim_id", e.ClaimID).
		Str("actor", string(e.Actor)).
		Msg("action recorded")
	return e, nil
}

// Recent returns all retained entries, newest first.
func (l *Log) Recent() []Entry {
	return l.store.List()
}

func (l *Log) Len() int {
	return l.store.Len()
}
