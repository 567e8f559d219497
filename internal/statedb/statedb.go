// Package statedb persists chat connections in SQLite so a restarted bot
// picks up where it left off.
package statedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/asheshgoplani/termbot/internal/logging"
)

var storeLog = logging.ForComponent(logging.CompStore)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Metadata keys.
const (
	MetaSchemaVersion = "schema_version"
	MetaBridgeMode    = "bridge_mode"
)

// StateDB wraps a SQLite database for connection persistence.
// Safe for concurrent use within one process; other processes can read and
// write through WAL mode and the busy timeout.
type StateDB struct {
	db  *sql.DB
	pid int
}

// ConnectionRow is one chat bound to one pane.
type ConnectionRow struct {
	ChatID      int64
	Pane        string
	AutoEnter   bool
	WindowMsgID int
	PanelMsgID  int
	ConnectedAt time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	storeLog.Debug("statedb_opened", "path", dbPath)
	return &StateDB{db: db, pid: os.Getpid()}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for tests.
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and records the schema version.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS connections (
			chat_id       INTEGER PRIMARY KEY,
			pane          TEXT NOT NULL,
			auto_enter    INTEGER NOT NULL DEFAULT 1,
			window_msg_id INTEGER NOT NULL DEFAULT 0,
			panel_msg_id  INTEGER NOT NULL DEFAULT 0,
			connected_at  INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create connections: %w", err)
	}

	// One row per running bot process; only the primary may poll Telegram.
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS instance_heartbeats (
			pid        INTEGER PRIMARY KEY,
			started    INTEGER NOT NULL,
			heartbeat  INTEGER NOT NULL,
			is_primary INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("statedb: create heartbeats: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)
	`, MetaSchemaVersion, strconv.Itoa(SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Connections ---

// SaveConnection inserts or replaces the row for row.ChatID.
func (s *StateDB) SaveConnection(row ConnectionRow) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO connections (
			chat_id, pane, auto_enter, window_msg_id, panel_msg_id, connected_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		row.ChatID, row.Pane, boolInt(row.AutoEnter),
		row.WindowMsgID, row.PanelMsgID, row.ConnectedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("statedb: save connection %d: %w", row.ChatID, err)
	}
	return nil
}

// LoadConnections returns every stored connection ordered by chat id.
func (s *StateDB) LoadConnections() ([]ConnectionRow, error) {
	rows, err := s.db.Query(`
		SELECT chat_id, pane, auto_enter, window_msg_id, panel_msg_id, connected_at
		FROM connections ORDER BY chat_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ConnectionRow
	for rows.Next() {
		var r ConnectionRow
		var autoEnter int
		var connectedUnix int64
		if err := rows.Scan(&r.ChatID, &r.Pane, &autoEnter, &r.WindowMsgID, &r.PanelMsgID, &connectedUnix); err != nil {
			return nil, err
		}
		r.AutoEnter = autoEnter != 0
		r.ConnectedAt = time.Unix(connectedUnix, 0)
		result = append(result, r)
	}
	return result, rows.Err()
}

// DeleteConnection removes the row for chatID. Deleting a missing row is
// not an error.
func (s *StateDB) DeleteConnection(chatID int64) error {
	if _, err := s.db.Exec("DELETE FROM connections WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("statedb: delete connection %d: %w", chatID, err)
	}
	return nil
}

// ClearMessageIDs zeroes every stored window and panel id. Used when the
// bridge mode changed since the rows were written.
func (s *StateDB) ClearMessageIDs() error {
	_, err := s.db.Exec("UPDATE connections SET window_msg_id = 0, panel_msg_id = 0")
	return err
}

// IsEmpty returns true if no connections are stored.
func (s *StateDB) IsEmpty() (bool, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM connections").Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

// --- Heartbeat ---

// RegisterInstance records this process as a running bot.
func (s *StateDB) RegisterInstance(isPrimary bool) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO instance_heartbeats (pid, started, heartbeat, is_primary)
		VALUES (?, ?, ?, ?)
	`, s.pid, now, now, boolInt(isPrimary))
	return err
}

// Heartbeat updates the heartbeat timestamp for this process.
func (s *StateDB) Heartbeat() error {
	_, err := s.db.Exec(
		"UPDATE instance_heartbeats SET heartbeat = ? WHERE pid = ?",
		time.Now().Unix(), s.pid,
	)
	return err
}

// UnregisterInstance removes this process from the heartbeat table.
func (s *StateDB) UnregisterInstance() error {
	_, err := s.db.Exec("DELETE FROM instance_heartbeats WHERE pid = ?", s.pid)
	return err
}

// CleanDeadInstances removes heartbeat entries older than timeout.
func (s *StateDB) CleanDeadInstances(timeout time.Duration) error {
	cutoff := time.Now().Add(-timeout).Unix()
	_, err := s.db.Exec("DELETE FROM instance_heartbeats WHERE heartbeat < ?", cutoff)
	return err
}

// AliveInstanceCount returns how many bot processes have fresh heartbeats.
func (s *StateDB) AliveInstanceCount(timeout time.Duration) (int, error) {
	var count int
	cutoff := time.Now().Add(-timeout).Unix()
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM instance_heartbeats WHERE heartbeat >= ?", cutoff,
	).Scan(&count)
	return count, err
}

// --- Primary Election ---

// ElectPrimary attempts to make this process the primary, the only one
// allowed to poll Telegram for the token. Returns true if this process is
// now (or already was) the primary.
func (s *StateDB) ElectPrimary(timeout time.Duration) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("statedb: begin elect: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := time.Now().Add(-timeout).Unix()

	// Stale primaries lose the flag.
	if _, err := tx.Exec(
		"UPDATE instance_heartbeats SET is_primary = 0 WHERE heartbeat < ? AND is_primary = 1",
		cutoff,
	); err != nil {
		return false, fmt.Errorf("statedb: clear stale primary: %w", err)
	}

	var existingPID int
	err = tx.QueryRow(
		"SELECT pid FROM instance_heartbeats WHERE is_primary = 1 AND heartbeat >= ? LIMIT 1",
		cutoff,
	).Scan(&existingPID)

	if err == nil {
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("statedb: commit elect: %w", err)
		}
		return existingPID == s.pid, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("statedb: find primary: %w", err)
	}

	if _, err := tx.Exec(
		"UPDATE instance_heartbeats SET is_primary = 1 WHERE pid = ?",
		s.pid,
	); err != nil {
		return false, fmt.Errorf("statedb: claim primary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("statedb: commit elect: %w", err)
	}
	return true, nil
}

// Primary returns the pid of the live primary, 0 when there is none.
func (s *StateDB) Primary(timeout time.Duration) (int, error) {
	var pid int
	cutoff := time.Now().Add(-timeout).Unix()
	err := s.db.QueryRow(
		"SELECT pid FROM instance_heartbeats WHERE is_primary = 1 AND heartbeat >= ? LIMIT 1",
		cutoff,
	).Scan(&pid)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return pid, err
}

// RemoveInstance deletes the row of another process, for one known to have
// exited without unregistering.
func (s *StateDB) RemoveInstance(pid int) error {
	_, err := s.db.Exec("DELETE FROM instance_heartbeats WHERE pid = ?", pid)
	return err
}

// ResignPrimary clears the is_primary flag for this process.
func (s *StateDB) ResignPrimary() error {
	_, err := s.db.Exec(
		"UPDATE instance_heartbeats SET is_primary = 0 WHERE pid = ?",
		s.pid,
	)
	return err
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
