package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/daviddao/tixd/pkg/model"

	_ "modernc.org/sqlite"
)

// Store persists decisions in SQLite. WAL mode lets several datacenters on
// one host share a journal file; rows are keyed by (node, seq).
type Store struct {
	db    *sql.DB
	retry retryConfig
}

// Open opens (or creates) the SQLite database and initializes the schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, retry: defaultRetryConfig()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		node_id    INTEGER NOT NULL,
		seq        INTEGER NOT NULL,
		lamport_ts INTEGER NOT NULL,
		owner      INTEGER NOT NULL,
		requested  INTEGER NOT NULL,
		consumed   INTEGER NOT NULL,
		remaining  INTEGER NOT NULL,
		decided_at TEXT NOT NULL,
		PRIMARY KEY (node_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_request ON decisions(lamport_ts, owner);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends d. A second record for the same (node, seq) fails.
func (s *Store) Record(d model.Decision) error {
	return retryOp(s.retry, func() error {
		_, err := s.db.Exec(
			`INSERT INTO decisions (node_id, seq, lamport_ts, owner, requested, consumed, remaining, decided_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			int64(d.Node), d.Seq, d.Timestamp, int64(d.Owner), d.Requested, d.Consumed, d.Remaining,
			d.DecidedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// List returns node's decisions in apply order.
func (s *Store) List(node model.NodeID) ([]model.Decision, error) {
	rows, err := s.db.Query(
		`SELECT node_id, seq, lamport_ts, owner, requested, consumed, remaining, decided_at
		 FROM decisions WHERE node_id = ? ORDER BY seq ASC`, int64(node),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// Nodes returns the ids of every node with at least one recorded decision.
func (s *Store) Nodes() ([]model.NodeID, error) {
	rows, err := s.db.Query(`SELECT DISTINCT node_id FROM decisions ORDER BY node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []model.NodeID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, model.NodeID(id))
	}
	return ids, rows.Err()
}

func scanDecisions(rows *sql.Rows) ([]model.Decision, error) {
	var ds []model.Decision
	for rows.Next() {
		var d model.Decision
		var node, owner int64
		var decidedStr string
		if err := rows.Scan(&node, &d.Seq, &d.Timestamp, &owner, &d.Requested,
			&d.Consumed, &d.Remaining, &decidedStr); err != nil {
			return nil, err
		}
		d.Node, d.Owner = model.NodeID(node), model.NodeID(owner)
		var parseErr error
		d.DecidedAt, parseErr = time.Parse(time.RFC3339Nano, decidedStr)
		if parseErr != nil {
			return nil, fmt.Errorf("parse decided_at for node %d seq %d: %w", d.Node, d.Seq, parseErr)
		}
		ds = append(ds, d)
	}
	return ds, rows.Err()
}

var (
	_ Recorder = (*Store)(nil)
	_ Reader   = (*Store)(nil)
)
