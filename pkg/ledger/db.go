package ledger

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tkrennwa/glacier-backup/pkg/util"
)

const driverName = "sqlite3"

// SQLite pragmas. WAL plus a busy timeout keeps the durable-write-before-done
// contract cheap while still tolerating a concurrent reader.
const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA synchronous=FULL;
PRAGMA temp_store=MEMORY;
`

// newSqliteDB opens (and creates if needed) the SQLite database at path.
// Use ":memory:" for an in-memory database, e.g. in tests.
func newSqliteDB(path string) (*sqlx.DB, error) {
	var dsn string
	if path != ":memory:" {
		if err := util.EnsureParent(path); err != nil {
			return nil, fmt.Errorf("ensure ledger directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", path)
	} else {
		dsn = ":memory:"
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to ledger database: %w", err)
	}

	// A single connection serializes writers; per-key atomicity then comes
	// for free from SQLite's statement-level transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(defaultPragma); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	return db, nil
}
