package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationLockID serializes migrators across worker replicas.
const migrationLockID = 0x70726f67 // "prog"

// Migration is one schema step, loaded from migrations/NNN_name.{up,down}.sql.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// GetMigrations parses the embedded migration files, ordered by version.
// It panics on a malformed file name; the set is fixed at build time.
func GetMigrations() []Migration {
	migs, err := loadMigrations(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return migs
}

func loadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[int]*Migration)
	for _, e := range entries {
		file := e.Name()
		stem, direction, ok := strings.Cut(strings.TrimSuffix(file, ".sql"), ".")
		if !ok || (direction != "up" && direction != "down") {
			return nil, fmt.Errorf("postgres: bad migration file %q", file)
		}
		num, name, ok := strings.Cut(stem, "_")
		version, convErr := strconv.Atoi(num)
		if !ok || convErr != nil || version <= 0 {
			return nil, fmt.Errorf("postgres: bad migration version in %q", file)
		}

		body, err := fs.ReadFile(fsys, path.Join(dir, file))
		if err != nil {
			return nil, err
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if direction == "up" {
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migrator applies the embedded migrations. Each step runs in its own
// transaction together with its schema_migrations row, under a
// transaction-scoped advisory lock.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator over the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

const createMigrationTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
)`

// Migrate applies pending migrations in order and returns how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if _, err := m.conn.Exec(ctx, createMigrationTable); err != nil {
		return 0, fmt.Errorf("%w: create schema_migrations: %w", ErrMigrationFailed, err)
	}

	ran := 0
	for _, mig := range m.migrations {
		if mig.UpSQL == "" {
			return ran, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		applied := false
		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
				return err
			}
			var exists bool
			if err := tx.QueryRow(ctx,
				"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", mig.Version,
			).Scan(&exists); err != nil || exists {
				return err
			}
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
			applied = err == nil
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("%w: version %d (%s): %w", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		if applied {
			ran++
		}
	}
	return ran, nil
}

// Rollback reverts the newest applied migration. It is a no-op on an
// empty schema.
func (m *Migrator) Rollback(ctx context.Context) error {
	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
			return err
		}

		var version int
		err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
		if err != nil || version == 0 {
			return err
		}

		idx := sort.Search(len(m.migrations), func(i int) bool { return m.migrations[i].Version >= version })
		if idx == len(m.migrations) || m.migrations[idx].Version != version || m.migrations[idx].DownSQL == "" {
			return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, version)
		}

		if _, err := tx.Exec(ctx, m.migrations[idx].DownSQL); err != nil {
			return fmt.Errorf("%w: rollback %d: %w", ErrMigrationFailed, version, err)
		}
		_, err = tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", version)
		return err
	})
}
