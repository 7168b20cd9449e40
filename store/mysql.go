package store

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a queryable Store backend using go-sql-driver/mysql,
// grounded on the teacher's graph/store/mysql.go, adapted to the
// orchestrator's session/evidence/checkpoint/timeline schema (see
// sql_common.go, shared with SQLiteStore).
type MySQLStore struct {
	*sqlStore
}

// NewMySQLStore opens a MySQL connection using dsn (standard
// go-sql-driver DSN format, e.g. "user:pass@tcp(host:3306)/dbname") and
// applies the orchestrator schema.
func NewMySQLStore(dsn string, opts ...FileStoreOption) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}

	tmp := &FileStore{maxCheckpoints: DefaultMaxCheckpoints}
	for _, o := range opts {
		o(tmp)
	}

	inner, err := newSQLStore(db, tmp.maxCheckpoints, tmp.clock)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &MySQLStore{sqlStore: inner}, nil
}

var _ Store = (*MySQLStore)(nil)
