package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a queryable Store backend using the pure-Go
// modernc.org/sqlite driver, grounded on the teacher's
// graph/store/sqlite.go (WAL mode, table-per-concern layout) but
// targeting session/evidence/checkpoint/timeline rows instead of
// workflow-step rows.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore opens (creating if necessary) a SQLite database file at
// path and applies the orchestrator schema.
func NewSQLiteStore(path string, opts ...FileStoreOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // WAL-mode SQLite: single writer, matching the teacher's driver guidance

	tmp := &FileStore{maxCheckpoints: DefaultMaxCheckpoints}
	for _, o := range opts {
		o(tmp)
	}

	inner, err := newSQLStore(db, tmp.maxCheckpoints, tmp.clock)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: inner}, nil
}

var _ Store = (*SQLiteStore)(nil)
