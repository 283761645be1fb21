// Package loadlog records the per rank load of every rebalance in a sqlite
// database so that runs can be compared afterwards.
package loadlog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS loads (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	step      INTEGER NOT NULL,
	version   INTEGER NOT NULL,
	rank      INTEGER NOT NULL,
	patches   INTEGER NOT NULL,
	load      REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_loads_version ON loads(version);
`

// Entry is the load of one rank under one patch table version.
type Entry struct {
	Step    int
	Version int
	Rank    int
	Patches int
	Load    float64
}

type Log struct {
	db     *sql.DB
	insert *sql.Stmt
}

// Open creates or opens the database at path, ":memory:" keeps it in memory.
func Open(path string) (l *Log, err error) {
	var db *sql.DB
	if db, err = sql.Open("sqlite3", path); err != nil {
		return
	}
	// a single connection keeps ":memory:" databases alive between calls
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("load log schema: %w", err)
	}
	l = &Log{db: db}
	if l.insert, err = db.Prepare(
		"INSERT INTO loads (step, version, rank, patches, load) VALUES (?, ?, ?, ?, ?)"); err != nil {
		db.Close()
		return nil, err
	}
	return
}

// Record stores the load and patch count of every rank, indexed by rank.
func (l *Log) Record(step, version int, loads []float64, patches []int) (err error) {
	if len(loads) != len(patches) {
		return fmt.Errorf("load log: %d loads for %d patch counts", len(loads), len(patches))
	}
	var tx *sql.Tx
	if tx, err = l.db.Begin(); err != nil {
		return
	}
	stmt := tx.Stmt(l.insert)
	for rank := range loads {
		if _, err = stmt.Exec(step, version, rank, patches[rank], loads[rank]); err != nil {
			tx.Rollback()
			return
		}
	}
	return tx.Commit()
}

// Entries returns the loads recorded for a table version ordered by rank.
func (l *Log) Entries(version int) (entries []Entry, err error) {
	var rows *sql.Rows
	if rows, err = l.db.Query(
		"SELECT step, version, rank, patches, load FROM loads WHERE version = ? ORDER BY rank",
		version); err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var e Entry
		if err = rows.Scan(&e.Step, &e.Version, &e.Rank, &e.Patches, &e.Load); err != nil {
			return
		}
		entries = append(entries, e)
	}
	err = rows.Err()
	return
}

// LatestVersion is the highest recorded table version, -1 for an empty log.
func (l *Log) LatestVersion() (version int, err error) {
	err = l.db.QueryRow("SELECT COALESCE(MAX(version), -1) FROM loads").Scan(&version)
	return
}

// MaxLoad returns the largest rank load of every recorded version in
// version order.
func (l *Log) MaxLoad() (versions []int, loads []float64, err error) {
	var rows *sql.Rows
	if rows, err = l.db.Query(
		"SELECT version, MAX(load) FROM loads GROUP BY version ORDER BY version"); err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var (
			v  int
			ld float64
		)
		if err = rows.Scan(&v, &ld); err != nil {
			return
		}
		versions = append(versions, v)
		loads = append(loads, ld)
	}
	err = rows.Err()
	return
}

func (l *Log) Close() error {
	l.insert.Close()
	return l.db.Close()
}
