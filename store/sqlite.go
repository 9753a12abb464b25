package store

import (
	"database/sql"
	"fmt"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/mqwire/mqwire/mqtt"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pending_deliveries (
	direction   INTEGER NOT NULL,
	packet_id   INTEGER NOT NULL,
	topic       TEXT    NOT NULL,
	payload     BLOB,
	qos         INTEGER NOT NULL,
	retain      INTEGER NOT NULL,
	state       INTEGER NOT NULL,
	retry_count INTEGER NOT NULL,
	sent_at     INTEGER NOT NULL,
	PRIMARY KEY (direction, packet_id)
);`

// SQLiteStore is a durable Store backend. It lets a non-clean session
// resume its in-flight QoS handshakes after a process restart.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary creates) the database at
// path. Use ":memory:" for a throwaway store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite database: %w", err)
	}
	// Writes are serialized by the tracker; a single connection
	// avoids SQLITE_BUSY on concurrent access.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initializing schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(entry *PendingDelivery) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO pending_deliveries
		(direction, packet_id, topic, payload, qos, retain, state, retry_count, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Direction, entry.ID, entry.Topic, entry.Payload,
		entry.QoS, entry.Retain, entry.State, entry.RetryCount,
		entry.SentAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: saving delivery %d: %w", entry.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(key Key) (*PendingDelivery, error) {
	row := s.db.QueryRow(`
		SELECT direction, packet_id, topic, payload, qos, retain, state, retry_count, sent_at
		FROM pending_deliveries WHERE direction = ? AND packet_id = ?`,
		key.Direction, key.ID,
	)
	entry, err := scanDelivery(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("store: loading delivery %d: %w", key.ID, err)
	}
	return entry, nil
}

func (s *SQLiteStore) Delete(key Key) error {
	res, err := s.db.Exec(`
		DELETE FROM pending_deliveries WHERE direction = ? AND packet_id = ?`,
		key.Direction, key.ID,
	)
	if err != nil {
		return fmt.Errorf("store: deleting delivery %d: %w", key.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List() ([]*PendingDelivery, error) {
	rows, err := s.db.Query(`
		SELECT direction, packet_id, topic, payload, qos, retain, state, retry_count, sent_at
		FROM pending_deliveries`)
	if err != nil {
		return nil, fmt.Errorf("store: listing deliveries: %w", err)
	}
	defer rows.Close()

	var entries []*PendingDelivery
	for rows.Next() {
		entry, err := scanDelivery(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: listing deliveries: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanDelivery(scan func(...interface{}) error) (*PendingDelivery, error) {
	var entry PendingDelivery
	var direction, qos, state uint8
	var sentAt int64
	err := scan(&direction, &entry.ID, &entry.Topic, &entry.Payload,
		&qos, &entry.Retain, &state, &entry.RetryCount, &sentAt)
	if err != nil {
		return nil, err
	}
	entry.Direction = Direction(direction)
	entry.QoS = mqtt.QoS(qos)
	entry.State = State(state)
	entry.SentAt = time.Unix(0, sentAt)
	return &entry, nil
}
