package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// migrationLockID is the advisory lock key guarding concurrent Up runs.
// Two stablecore instances sharing a database must not race migrations.
const migrationLockID = 0x5741b1e

// migrationFile is one {version}_{name}.up.sql / .down.sql pair on disk.
// The naming convention matches golang-migrate so existing tooling can
// read the directory.
type migrationFile struct {
	Version  string
	Name     string
	UpPath   string
	DownPath string
}

// Migrator applies the SQL files under a migrations directory in
// version order, recording progress in schema_history.
type Migrator struct {
	db  *sql.DB
	dir string
}

func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

// Up applies every pending migration inside its own transaction,
// holding a session advisory lock for the duration.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureHistoryTable(ctx); err != nil {
		return fmt.Errorf("ensure schema_history: %w", err)
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("read schema_history: %w", err)
	}

	files, err := m.discover()
	if err != nil {
		return err
	}

	for _, mf := range files {
		if applied[mf.Version] {
			continue
		}
		if mf.UpPath == "" {
			return fmt.Errorf("migration %s has no up file", mf.Version)
		}
		if err := m.applyOne(ctx, mf); err != nil {
			return err
		}
		log.Printf("INFO: applied migration %s_%s", mf.Version, mf.Name)
	}
	return nil
}

func (m *Migrator) applyOne(ctx context.Context, mf migrationFile) error {
	body, err := os.ReadFile(mf.UpPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", mf.UpPath, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", mf.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec %s: %w", mf.Version, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO public.schema_history (version, name) VALUES ($1, $2)`,
		mf.Version, mf.Name,
	); err != nil {
		return fmt.Errorf("record %s: %w", mf.Version, err)
	}
	return tx.Commit()
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureHistoryTable(ctx); err != nil {
		return err
	}

	var version string
	err := m.db.QueryRowContext(ctx,
		`SELECT version FROM public.schema_history ORDER BY version DESC LIMIT 1`,
	).Scan(&version)
	if err == sql.ErrNoRows {
		log.Println("INFO: no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema_history: %w", err)
	}

	files, err := m.discover()
	if err != nil {
		return err
	}
	var target *migrationFile
	for i := range files {
		if files[i].Version == version {
			target = &files[i]
			break
		}
	}
	if target == nil || target.DownPath == "" {
		return fmt.Errorf("migration %s has no down file", version)
	}

	body, err := os.ReadFile(target.DownPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", target.DownPath, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec down %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM public.schema_history WHERE version = $1`, version,
	); err != nil {
		return fmt.Errorf("unrecord %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("INFO: rolled back migration %s_%s", target.Version, target.Name)
	return nil
}

// Status lists discovered migrations and whether each is applied.
func (m *Migrator) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureHistoryTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	files, err := m.discover()
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(files))
	for _, mf := range files {
		mark := "pending"
		if applied[mf.Version] {
			mark = "applied"
		}
		lines = append(lines, fmt.Sprintf("%s  %s_%s", mark, mf.Version, mf.Name))
	}
	return lines, nil
}

func (m *Migrator) ensureHistoryTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_history (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_history`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// discover pairs up/down files by version prefix and returns them in
// version order.
func (m *Migrator) discover() ([]migrationFile, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", m.dir, err)
	}

	byVersion := make(map[string]*migrationFile)
	for _, e := range entries {
		name := e.Name()
		var stem string
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			stem = strings.TrimSuffix(name, ".up.sql")
		case strings.HasSuffix(name, ".down.sql"):
			stem = strings.TrimSuffix(name, ".down.sql")
		default:
			continue
		}

		version, base, ok := strings.Cut(stem, "_")
		if !ok {
			version, base = stem, stem
		}
		mf := byVersion[version]
		if mf == nil {
			mf = &migrationFile{Version: version, Name: base}
			byVersion[version] = mf
		}
		if strings.HasSuffix(name, ".up.sql") {
			mf.UpPath = filepath.Join(m.dir, name)
		} else {
			mf.DownPath = filepath.Join(m.dir, name)
		}
	}

	files := make([]migrationFile, 0, len(byVersion))
	for _, mf := range byVersion {
		files = append(files, *mf)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}
