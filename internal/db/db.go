package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "bulletin.db"

type Config struct {
	// Path is the database file. A directory gets the default file name.
	Path string
}

func dbPath(p string) string {
	if p == "" {
		p = "."
	}
	if filepath.Ext(p) == "" {
		return filepath.Join(p, defaultDBName)
	}
	return p
}

// Open opens the SQLite database, creating its directory if missing.
func Open(cfg Config) (*sql.DB, error) {
	path := dbPath(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection keeps CAS updates serialized.
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the db file used for cfg.
func Path(cfg Config) string {
	return dbPath(cfg.Path)
}

// IsBusy reports whether err is SQLite's lock contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		// SQLITE_BUSY and SQLITE_LOCKED, including extended codes.
		primary := coded.Code() & 0xff
		return primary == 5 || primary == 6
	}
	return false
}
