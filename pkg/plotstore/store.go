// Package plotstore records the plots created for console widget output so
// they can be listed after the fact. Only plot metadata is kept; widget state
// is never persisted.
package plotstore

import (
	"context"
	"strings"
)

// Record is one created plot.
type Record struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_id"`
	SessionID   string `json:"session_id"`
	Code        string `json:"code"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// ListOptions narrows List. Zero values mean no filter; Limit defaults to 200.
type ListOptions struct {
	SessionID string
	Limit     int
	SinceMs   int64
}

// Store keeps plot records, newest first on List.
type Store interface {
	Save(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, bool, error)
	List(ctx context.Context, opts ListOptions) ([]Record, error)
	Close() error
}

const defaultListLimit = 200

func normalizeRecord(r Record) Record {
	r.ID = strings.TrimSpace(r.ID)
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.ParentID = strings.TrimSpace(r.ParentID)
	return r
}

func normalizeListOptions(opts ListOptions) ListOptions {
	opts.SessionID = strings.TrimSpace(opts.SessionID)
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	return opts
}

// Open returns an in-memory store for an empty location, and a sqlite store
// otherwise. location is either a sqlite DSN ("file:...") or a file path.
func Open(location string) (Store, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return NewInMemoryStore(0), nil
	}
	dsn := location
	if !strings.HasPrefix(location, "file:") {
		var err error
		dsn, err = SQLiteDSNForFile(location)
		if err != nil {
			return nil, err
		}
	}
	return NewSQLiteStore(dsn)
}
