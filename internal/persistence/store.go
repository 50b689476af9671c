// Package persistence provides the SQLite-backed storage collaborator for
// the simulation kernel: agents, world snapshots, and the action ledger.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/harborsim/internal/sim"
)

// Store wraps a SQLite connection. It implements sim.Storage.
type Store struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	st := &Store{conn: conn}
	if err := st.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return st, nil
}

// Close closes the database connection.
func (st *Store) Close() error {
	return st.conn.Close()
}

func (st *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		wallet TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		region TEXT NOT NULL,
		energy INTEGER NOT NULL,
		max_energy INTEGER NOT NULL,
		reputation INTEGER NOT NULL,
		credits INTEGER NOT NULL,
		inventory_json TEXT NOT NULL,
		entered_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		state_hash TEXT NOT NULL,
		prices_json TEXT NOT NULL,
		events_json TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger (
		id TEXT PRIMARY KEY,
		tick INTEGER NOT NULL,
		wallet TEXT NOT NULL,
		action TEXT NOT NULL,
		params_json TEXT NOT NULL,
		success INTEGER NOT NULL,
		message TEXT NOT NULL,
		state_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_tick ON world_snapshots(tick);
	CREATE INDEX IF NOT EXISTS idx_ledger_tick ON ledger(tick);
	CREATE INDEX IF NOT EXISTS idx_ledger_wallet ON ledger(wallet);
	`
	_, err := st.conn.Exec(schema)
	return err
}

type agentRow struct {
	Wallet        string `db:"wallet"`
	Name          string `db:"name"`
	Region        string `db:"region"`
	Energy        int    `db:"energy"`
	MaxEnergy     int    `db:"max_energy"`
	Reputation    int    `db:"reputation"`
	Credits       int64  `db:"credits"`
	InventoryJSON string `db:"inventory_json"`
	EnteredAt     uint64 `db:"entered_at"`
}

// SaveAgent upserts one agent record.
func (st *Store) SaveAgent(a *sim.Agent) error {
	invJSON, err := json.Marshal(a.Inventory)
	if err != nil {
		return fmt.Errorf("marshal inventory: %w", err)
	}

	_, err = st.conn.Exec(`INSERT OR REPLACE INTO agents
		(wallet, name, region, energy, max_energy, reputation, credits, inventory_json, entered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Wallet, a.Name, string(a.Region), a.Energy, a.MaxEnergy,
		a.Reputation, a.Credits, string(invJSON), a.EnteredAt,
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.Wallet, err)
	}
	return nil
}

// LoadAgents reads all agent records. A stored region that fails to decode
// is logged and defaulted to dock rather than dropping the agent.
func (st *Store) LoadAgents() ([]*sim.Agent, error) {
	var rows []agentRow
	if err := st.conn.Select(&rows, "SELECT * FROM agents"); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	agents := make([]*sim.Agent, 0, len(rows))
	for _, row := range rows {
		region, err := sim.ParseRegion(row.Region)
		if err != nil {
			slog.Warn("stored agent has unknown region, defaulting to dock",
				"wallet", row.Wallet, "region", row.Region)
			region = sim.RegionDock
		}

		inventory := make(map[sim.Resource]int)
		if err := json.Unmarshal([]byte(row.InventoryJSON), &inventory); err != nil {
			return nil, fmt.Errorf("decode inventory for %s: %w", row.Wallet, err)
		}

		agents = append(agents, &sim.Agent{
			Wallet:     row.Wallet,
			Name:       row.Name,
			Region:     region,
			Energy:     row.Energy,
			MaxEnergy:  row.MaxEnergy,
			Reputation: row.Reputation,
			Credits:    row.Credits,
			Inventory:  inventory,
			EnteredAt:  row.EnteredAt,
		})
	}
	return agents, nil
}

// SaveSnapshot appends a world snapshot row.
func (st *Store) SaveSnapshot(snap sim.Snapshot) error {
	pricesJSON, err := json.Marshal(snap.Prices)
	if err != nil {
		return fmt.Errorf("marshal prices: %w", err)
	}
	eventsJSON, err := json.Marshal(snap.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	_, err = st.conn.Exec(`INSERT INTO world_snapshots
		(tick, state_hash, prices_json, events_json, saved_at)
		VALUES (?, ?, ?, ?, ?)`,
		snap.Tick, snap.StateHash, string(pricesJSON), string(eventsJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadLatestSnapshot returns the most recent snapshot, or nil when the
// database is fresh.
func (st *Store) LoadLatestSnapshot() (*sim.Snapshot, error) {
	var row struct {
		Tick       uint64 `db:"tick"`
		StateHash  string `db:"state_hash"`
		PricesJSON string `db:"prices_json"`
		EventsJSON string `db:"events_json"`
	}
	err := st.conn.Get(&row,
		"SELECT tick, state_hash, prices_json, events_json FROM world_snapshots ORDER BY id DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	snap := &sim.Snapshot{Tick: row.Tick, StateHash: row.StateHash}
	if err := json.Unmarshal([]byte(row.PricesJSON), &snap.Prices); err != nil {
		return nil, fmt.Errorf("decode snapshot prices: %w", err)
	}
	if err := json.Unmarshal([]byte(row.EventsJSON), &snap.Events); err != nil {
		return nil, fmt.Errorf("decode snapshot events: %w", err)
	}
	return snap, nil
}

// AppendLedger writes one ledger entry.
func (st *Store) AppendLedger(e sim.LedgerEntry) error {
	paramsJSON, err := json.Marshal(e.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	success := 0
	if e.Success {
		success = 1
	}

	_, err = st.conn.Exec(`INSERT INTO ledger
		(id, tick, wallet, action, params_json, success, message, state_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Tick, e.Wallet, e.Action, string(paramsJSON),
		success, e.Message, e.StateHash, e.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

// RecentLedger returns the most recent entries, newest first.
func (st *Store) RecentLedger(limit int) ([]sim.LedgerEntry, error) {
	var rows []struct {
		ID         string `db:"id"`
		Tick       uint64 `db:"tick"`
		Wallet     string `db:"wallet"`
		Action     string `db:"action"`
		ParamsJSON string `db:"params_json"`
		Success    int    `db:"success"`
		Message    string `db:"message"`
		StateHash  string `db:"state_hash"`
		CreatedAt  string `db:"created_at"`
	}
	err := st.conn.Select(&rows,
		`SELECT id, tick, wallet, action, params_json, success, message, state_hash, created_at
		 FROM ledger ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	entries := make([]sim.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		var params map[string]any
		if err := json.Unmarshal([]byte(row.ParamsJSON), &params); err != nil {
			return nil, fmt.Errorf("decode ledger params: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339, row.CreatedAt)
		entries = append(entries, sim.LedgerEntry{
			ID:        row.ID,
			Tick:      row.Tick,
			Timestamp: ts,
			Wallet:    row.Wallet,
			Action:    row.Action,
			Params:    params,
			Success:   row.Success != 0,
			Message:   row.Message,
			StateHash: row.StateHash,
		})
	}
	return entries, nil
}
