package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	xerrors "PluginSystem/internal/errors"
	"PluginSystem/internal/storage"
	"PluginSystem/pkg/plugin"
)

// Store implements storage.Store on the plugin_states and plugin_snapshots
// tables. Save replaces the whole table content in one transaction.
type Store struct {
	db *sql.DB
}

// New connects to MySQL and applies pending migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, failure(err, "connect")
	}
	s := NewWithDB(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, failure(err, "migrate")
	}
	return s, nil
}

// NewWithDB wraps an open database without running migrations.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

const (
	deleteStates   = `DELETE FROM plugin_states`
	deleteSnapshot = `DELETE FROM plugin_snapshots WHERE id = 1`
	upsertSnapshot = `REPLACE INTO plugin_snapshots (id, saved_at) VALUES (1, ?)`
	selectSnapshot = `SELECT saved_at FROM plugin_snapshots WHERE id = 1`
	insertState    = `INSERT INTO plugin_states (id, name, version, status, installed_at, enabled_at, error, dependencies) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	selectStates   = `SELECT id, name, version, status, installed_at, enabled_at, error, dependencies FROM plugin_states ORDER BY installed_at, id`
)

// Save implements storage.Store.
func (s *Store) Save(ctx context.Context, snap storage.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return failure(err, "begin save")
	}
	if _, err := tx.ExecContext(ctx, deleteStates); err != nil {
		tx.Rollback()
		return failure(err, "clear plugin_states")
	}
	for _, rec := range snap.Plugins {
		var enabledAt sql.NullInt64
		if rec.EnabledAt != nil {
			enabledAt = sql.NullInt64{Int64: rec.EnabledAt.UnixNano(), Valid: true}
		}
		var deps sql.NullString
		if len(rec.Dependencies) > 0 {
			raw, err := json.Marshal(rec.Dependencies)
			if err != nil {
				tx.Rollback()
				return failure(err, "encode dependencies of "+rec.ID)
			}
			deps = sql.NullString{String: string(raw), Valid: true}
		}
		var errText sql.NullString
		if rec.Error != "" {
			errText = sql.NullString{String: rec.Error, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insertState,
			rec.ID, rec.Name, rec.Version, string(rec.Status),
			rec.InstalledAt.UnixNano(), enabledAt, errText, deps,
		); err != nil {
			tx.Rollback()
			return failure(err, "insert "+rec.ID)
		}
	}
	if _, err := tx.ExecContext(ctx, upsertSnapshot, snap.SavedAt.UnixNano()); err != nil {
		tx.Rollback()
		return failure(err, "record snapshot")
	}
	if err := tx.Commit(); err != nil {
		return failure(err, "commit save")
	}
	return nil
}

// Load implements storage.Store.
func (s *Store) Load(ctx context.Context) (storage.Snapshot, error) {
	var savedAt int64
	err := s.db.QueryRowContext(ctx, selectSnapshot).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Snapshot{}, failure(err, "read snapshot")
	}

	rows, err := s.db.QueryContext(ctx, selectStates)
	if err != nil {
		return storage.Snapshot{}, failure(err, "query plugin_states")
	}
	defer rows.Close()

	snap := storage.Snapshot{SavedAt: fromNanos(savedAt), Plugins: []storage.Record{}}
	for rows.Next() {
		var (
			rec         storage.Record
			status      string
			installedAt int64
			enabledAt   sql.NullInt64
			errText     sql.NullString
			deps        sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Version, &status, &installedAt, &enabledAt, &errText, &deps); err != nil {
			return storage.Snapshot{}, failure(err, "scan plugin_states")
		}
		rec.Status = plugin.Status(status)
		rec.InstalledAt = fromNanos(installedAt)
		if enabledAt.Valid {
			at := fromNanos(enabledAt.Int64)
			rec.EnabledAt = &at
		}
		rec.Error = errText.String
		if deps.Valid && deps.String != "" {
			if err := json.Unmarshal([]byte(deps.String), &rec.Dependencies); err != nil {
				return storage.Snapshot{}, failure(err, "decode dependencies of "+rec.ID)
			}
		}
		snap.Plugins = append(snap.Plugins, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.Snapshot{}, failure(err, "iterate plugin_states")
	}
	return snap, nil
}

// Clear implements storage.Store.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return failure(err, "begin clear")
	}
	for _, stmt := range []string{deleteStates, deleteSnapshot} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return failure(err, "clear")
		}
	}
	if err := tx.Commit(); err != nil {
		return failure(err, "commit clear")
	}
	return nil
}

// Exists implements storage.Store.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	var savedAt int64
	err := s.db.QueryRowContext(ctx, selectSnapshot).Scan(&savedAt)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, failure(err, "check snapshot")
	}
}

// Close implements storage.Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func failure(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "mysql: "+message)
}
