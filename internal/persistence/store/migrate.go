package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SchemaVersion is the version recorded in config_kv after all migrations ran.
const SchemaVersion = 3

const schemaVersionKey = "schema_version"

type migration struct {
	version int
	name    string
	up      func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{1, "base_schema", createBaseSchema},
	{2, "relax_owner_name_unique", relaxOwnerNameUnique},
	{3, "active_mount_id", addActiveMountID},
}

// migrate applies each pending migration in its own transaction. Steps detect legacy
// shapes themselves, so a database written before versioning existed starts at 0 and is
// brought forward safely.
func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS config_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`); err != nil {
		return fmt.Errorf("ensure config_kv: %w", err)
	}
	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s: %w", m.name, err)
		}
		if err := m.up(ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO config_kv(key, value) VALUES(?, ?)`,
			schemaVersionKey, strconv.Itoa(m.version),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", m.name, err)
		}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO config_kv(key, value) VALUES('migrated_at', ?)`,
		time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLite) schemaVersion(ctx context.Context) (int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config_kv WHERE key = ?`, schemaVersionKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("bad schema_version %q", raw)
	}
	return v, nil
}

const recordsTableDDL = `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner TEXT NOT NULL,
	name TEXT,
	kind TEXT NOT NULL,
	attributes BLOB NOT NULL,
	inventory BLOB,
	created_at INTEGER NOT NULL,
	accessed_at INTEGER NOT NULL
);`

var recordsIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_records_owner_kind ON mount_records(owner, kind);`,
	`CREATE INDEX IF NOT EXISTS idx_records_accessed ON mount_records(accessed_at);`,
}

func createBaseSchema(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		fmt.Sprintf(recordsTableDDL, "mount_records"),
		`CREATE TABLE IF NOT EXISTS active_mounts (
			live_id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			mount_id INTEGER NOT NULL DEFAULT 0,
			name TEXT,
			world TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			spawned_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_active_owner ON active_mounts(owner);`,
	}
	stmts = append(stmts, recordsIndexes...)
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// legacyOwnerNameIndexes finds unique indexes covering exactly (owner, name) on
// mount_records. origin is "c" for CREATE UNIQUE INDEX and "u" for a table constraint.
func legacyOwnerNameIndexes(ctx context.Context, tx *sql.Tx) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name, origin FROM pragma_index_list('mount_records') WHERE "unique" = 1`)
	if err != nil {
		return nil, err
	}
	candidates := map[string]string{}
	for rows.Next() {
		var name, origin string
		if err := rows.Scan(&name, &origin); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if origin == "pk" {
			continue
		}
		candidates[name] = origin
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	out := map[string]string{}
	for name, origin := range candidates {
		cols, err := indexColumns(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		if len(cols) == 2 && cols[0] == "name" && cols[1] == "owner" {
			out[name] = origin
		}
	}
	return out, nil
}

func indexColumns(ctx context.Context, tx *sql.Tx, index string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM pragma_index_info(?)`, index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var c sql.NullString
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, strings.ToLower(c.String))
	}
	sort.Strings(cols)
	return cols, rows.Err()
}

// relaxOwnerNameUnique removes any uniqueness on (owner, name): one owner may hold several
// mounts with the same display name. Constraint-backed indexes cannot be dropped, so the
// table is rebuilt with ids and timestamps preserved.
func relaxOwnerNameUnique(ctx context.Context, tx *sql.Tx) error {
	legacy, err := legacyOwnerNameIndexes(ctx, tx)
	if err != nil {
		return err
	}
	rebuild := false
	for name, origin := range legacy {
		if origin == "c" {
			if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS "`+strings.ReplaceAll(name, `"`, `""`)+`"`); err != nil {
				return err
			}
			continue
		}
		rebuild = true
	}
	if !rebuild {
		return nil
	}
	stmts := []string{
		`DROP TABLE IF EXISTS mount_records_rebuild;`,
		fmt.Sprintf(recordsTableDDL, "mount_records_rebuild"),
		`INSERT INTO mount_records_rebuild(id, owner, name, kind, attributes, inventory, created_at, accessed_at)
			SELECT id, owner, name, kind, attributes, inventory, created_at, accessed_at FROM mount_records;`,
		`DROP TABLE mount_records;`,
		`ALTER TABLE mount_records_rebuild RENAME TO mount_records;`,
	}
	stmts = append(stmts, recordsIndexes...)
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func hasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	return n > 0, err
}

// addActiveMountID adds the record reference to placement tables written before it
// existed. Old rows get 0, which no record uses, and are swept as orphans on startup.
func addActiveMountID(ctx context.Context, tx *sql.Tx) error {
	ok, err := hasColumn(ctx, tx, "active_mounts", "mount_id")
	if err != nil || ok {
		return err
	}
	_, err = tx.ExecContext(ctx, `ALTER TABLE active_mounts ADD COLUMN mount_id INTEGER NOT NULL DEFAULT 0;`)
	return err
}
