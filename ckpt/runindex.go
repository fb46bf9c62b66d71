// runindex.go - RunIndex: sqlite-gestuetzte Metadaten je Checkpoint
// (run_id, epoch, step, loss, Pfad). Stil an
// app/store/database_core.go angelehnt (sql.Open mit WAL/Busy-Timeout,
// Schema-Init in init()).
package ckpt

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren
)

// RunIndex protokolliert, welcher Checkpoint-Pfad zu welchem Trainingslauf,
// welcher Epoche/Schritt und welchem Loss-Wert gehoert.
type RunIndex struct {
	conn *sql.DB
}

// OpenRunIndex oeffnet (und initialisiert falls noetig) den Run-Index an dbPath.
func OpenRunIndex(dbPath string) (*RunIndex, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open run index: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping run index: %w", err)
	}
	ri := &RunIndex{conn: conn}
	if err := ri.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize run index schema: %w", err)
	}
	return ri, nil
}

func (ri *RunIndex) init() error {
	_, err := ri.conn.Exec(`
	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		step INTEGER NOT NULL,
		loss REAL NOT NULL,
		path TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id);
	`)
	return err
}

// Close closes the underlying database connection.
func (ri *RunIndex) Close() error {
	_, _ = ri.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return ri.conn.Close()
}

// Record represents a single checkpoint entry.
type Record struct {
	RunID string
	Epoch int
	Step  int
	Loss  float64
	Path  string
}

// Insert adds a new checkpoint record to the index.
func (ri *RunIndex) Insert(rec Record) error {
	_, err := ri.conn.Exec(
		`INSERT INTO checkpoints (run_id, epoch, step, loss, path) VALUES (?, ?, ?, ?, ?)`,
		rec.RunID, rec.Epoch, rec.Step, rec.Loss, rec.Path,
	)
	return err
}

// Latest returns the most recently inserted checkpoint for runID, or
// (Record{}, false, nil) if none exist.
func (ri *RunIndex) Latest(runID string) (Record, bool, error) {
	row := ri.conn.QueryRow(
		`SELECT run_id, epoch, step, loss, path FROM checkpoints
		 WHERE run_id = ? ORDER BY id DESC LIMIT 1`,
		runID,
	)
	var rec Record
	if err := row.Scan(&rec.RunID, &rec.Epoch, &rec.Step, &rec.Loss, &rec.Path); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

// History returns every checkpoint recorded for runID, oldest first.
func (ri *RunIndex) History(runID string) ([]Record, error) {
	rows, err := ri.conn.Query(
		`SELECT run_id, epoch, step, loss, path FROM checkpoints
		 WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.RunID, &rec.Epoch, &rec.Step, &rec.Loss, &rec.Path); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
