// Package database persists batch runs and assembled profiles in SQLite.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite handle with pooling and prepared statements.
type DB struct {
	*sql.DB
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// NewDB opens (creating if needed) the result store under dataDir.
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "traitmeter.db")
	connStr := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &DB{
		DB:       db,
		prepared: make(map[string]*sql.Stmt),
	}
	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := database.initPreparedStatements(); err != nil {
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized", "path", dbPath)
	return database, nil
}

// migrate creates the necessary tables.
func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS batch_runs (
			id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			duration_ms INTEGER NOT NULL,
			estimator TEXT NOT NULL,
			percentile_mode TEXT NOT NULL,
			persons INTEGER NOT NULL,
			items INTEGER NOT NULL,
			k INTEGER NOT NULL,
			silhouette REAL NOT NULL,
			converged BOOLEAN NOT NULL,
			iterations INTEGER NOT NULL,
			report TEXT NOT NULL -- full BatchReport JSON
		)`,

		`CREATE TABLE IF NOT EXISTS person_profiles (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			person_id TEXT NOT NULL,
			ability REAL NOT NULL,
			cluster_id INTEGER NOT NULL,
			archetype TEXT NOT NULL,
			profile TEXT NOT NULL, -- full PersonProfile JSON
			created_at DATETIME NOT NULL,
			UNIQUE(run_id, person_id),
			FOREIGN KEY (run_id) REFERENCES batch_runs(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_batch_runs_created ON batch_runs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_person_profiles_run ON person_profiles(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_person_profiles_archetype ON person_profiles(archetype)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// initPreparedStatements initializes frequently used prepared statements.
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		"insert_run": `INSERT INTO batch_runs (
			id, created_at, duration_ms, estimator, percentile_mode,
			persons, items, k, silhouette, converged, iterations, report
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		"insert_profile": `INSERT INTO person_profiles (
			id, run_id, person_id, ability, cluster_id, archetype, profile, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,

		"get_run": `SELECT report FROM batch_runs WHERE id = ?`,

		"list_runs": `SELECT id, created_at, estimator, percentile_mode, persons, items, k, converged
			FROM batch_runs ORDER BY created_at DESC LIMIT ?`,

		"get_profiles": `SELECT profile FROM person_profiles
			WHERE run_id = ? ORDER BY person_id ASC`,

		"get_profile": `SELECT profile FROM person_profiles
			WHERE run_id = ? AND person_id = ?`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt
	}
	return nil
}

// GetPreparedStatement retrieves a prepared statement by name.
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}
	return stmt, nil
}

// Close closes the prepared statements and the underlying connection.
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = make(map[string]*sql.Stmt)
	return db.DB.Close()
}
