package statebus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLitePersistence keeps retained bus values in a local SQLite file.
type SQLitePersistence struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLitePersistence, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)

	p := &SQLitePersistence{db: db}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return p, nil
}

func (p *SQLitePersistence) migrate() error {
	_, err := p.db.Exec(`
	CREATE TABLE IF NOT EXISTS bus_states (
		key         TEXT PRIMARY KEY,
		value       TEXT NOT NULL,
		ack         INTEGER NOT NULL DEFAULT 0,
		last_change INTEGER NOT NULL DEFAULT 0,
		updated_at  TEXT NOT NULL
	);
	`)
	return err
}

func (p *SQLitePersistence) LoadAll(ctx context.Context) (map[string]State, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key, value, ack, last_change FROM bus_states`)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]State)
	for rows.Next() {
		var (
			key, raw   string
			ack        int
			lastChange int64
		)
		if err := rows.Scan(&key, &raw, &ack, &lastChange); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			continue
		}
		st := State{Value: value, Ack: ack != 0}
		if lastChange > 0 {
			st.LastChange = time.UnixMilli(lastChange)
		}
		out[key] = st
	}
	return out, rows.Err()
}

func (p *SQLitePersistence) Put(ctx context.Context, key string, st State) error {
	raw, err := json.Marshal(st.Value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	ack := 0
	if st.Ack {
		ack = 1
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO bus_states (key, value, ack, last_change, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			ack = excluded.ack,
			last_change = excluded.last_change,
			updated_at = excluded.updated_at`,
		key, string(raw), ack, Millis(st.LastChange), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (p *SQLitePersistence) Close() error {
	return p.db.Close()
}
