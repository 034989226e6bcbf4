package mysql

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"
	"time"

	"PluginSystem/deploy/migrations"
)

var embeddedMigrations fs.FS = migrations.Files

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`

// migrationFile is one NNNN_name.sql file split into statements.
type migrationFile struct {
	version    string
	name       string
	statements []string
}

// Migrate brings the schema up to date. Files whose version is already in
// schema_migrations are skipped; the others run in version order, each in
// its own transaction together with its schema_migrations row.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return failure(err, "create schema_migrations")
	}
	done, err := appliedVersions(ctx, s.db)
	if err != nil {
		return err
	}
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		return err
	}
	for _, f := range files {
		if done[f.version] {
			continue
		}
		if err := s.apply(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, failure(err, "list applied migrations")
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, failure(err, "scan applied migration")
		}
		done[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, failure(err, "list applied migrations")
	}
	return done, nil
}

func (s *Store) apply(ctx context.Context, f migrationFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return failure(err, "begin migration "+f.name)
	}
	for _, stmt := range f.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return failure(err, "apply migration "+f.name)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, f.version, time.Now().Unix()); err != nil {
		tx.Rollback()
		return failure(err, "record migration "+f.name)
	}
	if err := tx.Commit(); err != nil {
		return failure(err, "commit migration "+f.name)
	}
	return nil
}

// loadMigrationFiles reads every *.sql file of fsys in name order. Files
// without statements are dropped.
func loadMigrationFiles(fsys fs.FS) ([]migrationFile, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, failure(err, "list migrations")
	}
	files := make([]migrationFile, 0, len(names))
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, failure(err, "read migration "+name)
		}
		var stmts []string
		for _, part := range strings.Split(string(raw), ";") {
			if stmt := strings.TrimSpace(part); stmt != "" {
				stmts = append(stmts, stmt)
			}
		}
		if len(stmts) == 0 {
			continue
		}
		version, _, _ := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		files = append(files, migrationFile{version: version, name: name, statements: stmts})
	}
	return files, nil
}
