package store

import (
	"context"
	"database/sql"
	"errors"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mounterr"
)

const recordColumns = `id, owner, name, kind, attributes, inventory, created_at, accessed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (mount.Record, error) {
	var (
		rec                mount.Record
		name               sql.NullString
		kind               string
		created, accessed  int64
		attributes, invent []byte
	)
	if err := r.Scan(&rec.ID, &rec.Owner, &name, &kind, &attributes, &invent, &created, &accessed); err != nil {
		return mount.Record{}, err
	}
	if name.Valid {
		n := name.String
		rec.Name = &n
	}
	rec.Kind = mount.Kind(kind)
	rec.Attributes = attributes
	rec.Inventory = invent
	rec.CreatedAt = fromMillis(created)
	rec.LastAccessed = fromMillis(accessed)
	return rec, nil
}

func nullName(name *string) any {
	if name == nil {
		return nil
	}
	return *name
}

func nullBlob(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

// CreateRecord inserts rec and returns its new id. CreatedAt and LastAccessed default to
// now.
func (s *SQLite) CreateRecord(ctx context.Context, rec mount.Record) (int64, error) {
	const op = "store.create_record"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	now := s.nowMillis()
	created, accessed := now, now
	if !rec.CreatedAt.IsZero() {
		created = rec.CreatedAt.UnixMilli()
	}
	if !rec.LastAccessed.IsZero() {
		accessed = rec.LastAccessed.UnixMilli()
	}
	attrs := rec.Attributes
	if attrs == nil {
		attrs = []byte{}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO mount_records(owner, name, kind, attributes, inventory, created_at, accessed_at) VALUES(?,?,?,?,?,?,?)`,
		rec.Owner, nullName(rec.Name), string(rec.Kind), attrs, nullBlob(rec.Inventory), created, accessed,
	)
	if err != nil {
		return 0, mounterr.Persistence(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mounterr.Persistence(op, err)
	}
	return id, nil
}

// UpdateRecord replaces the attribute and inventory snapshots of record id and bumps its
// access time.
func (s *SQLite) UpdateRecord(ctx context.Context, id int64, attributes, inventory []byte) error {
	const op = "store.update_record"
	if err := s.ready(op); err != nil {
		return err
	}
	if attributes == nil {
		attributes = []byte{}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE mount_records SET attributes = ?, inventory = ?, accessed_at = ? WHERE id = ?`,
		attributes, nullBlob(inventory), s.nowMillis(), id,
	)
	return affectedOne(op, res, err, id)
}

func affectedOne(op string, res sql.Result, err error, id int64) error {
	if err != nil {
		return mounterr.Persistence(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mounterr.Persistence(op, err)
	}
	if n == 0 {
		return mounterr.NotFound(op, mounterr.CodeNotFound, "record #%d", id)
	}
	return nil
}

// GetRecord returns record id. A record that exists under another owner is a protection
// error, not a miss.
func (s *SQLite) GetRecord(ctx context.Context, owner string, id int64) (mount.Record, error) {
	const op = "store.get_record"
	if err := s.ready(op); err != nil {
		return mount.Record{}, err
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM mount_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return mount.Record{}, mounterr.NotFound(op, mounterr.CodeNotFound, "record #%d", id)
	}
	if err != nil {
		return mount.Record{}, mounterr.Persistence(op, err)
	}
	if rec.Owner != owner {
		return mount.Record{}, mounterr.Protection(op, "record #%d belongs to another owner", id)
	}
	return rec, nil
}

// ListByOwner returns the owner's records oldest first.
func (s *SQLite) ListByOwner(ctx context.Context, owner string) ([]mount.Record, error) {
	const op = "store.list_by_owner"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	return s.queryRecords(ctx, op,
		`SELECT `+recordColumns+` FROM mount_records WHERE owner = ? ORDER BY created_at, id`, owner)
}

// ListAll returns every record ordered by id.
func (s *SQLite) ListAll(ctx context.Context) ([]mount.Record, error) {
	const op = "store.list_all"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	return s.queryRecords(ctx, op, `SELECT `+recordColumns+` FROM mount_records ORDER BY id`)
}

func (s *SQLite) queryRecords(ctx context.Context, op, query string, args ...any) ([]mount.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mounterr.Persistence(op, err)
	}
	defer rows.Close()
	var out []mount.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, mounterr.Persistence(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mounterr.Persistence(op, err)
	}
	return out, nil
}

// FindByName returns the owner's records whose name matches under mount.FoldName, oldest
// first. Several matches are possible since names are not unique.
func (s *SQLite) FindByName(ctx context.Context, owner, name string) ([]mount.Record, error) {
	recs, err := s.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	key := mount.FoldName(name)
	var out []mount.Record
	for _, r := range recs {
		if r.Name != nil && mount.FoldName(*r.Name) == key {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeleteRecord removes record id of owner.
func (s *SQLite) DeleteRecord(ctx context.Context, owner string, id int64) error {
	const op = "store.delete_record"
	if err := s.ready(op); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM mount_records WHERE id = ? AND owner = ?`, id, owner)
	return affectedOne(op, res, err, id)
}

// TouchAccessTime bumps accessed_at of record id to now.
func (s *SQLite) TouchAccessTime(ctx context.Context, owner string, id int64) error {
	const op = "store.touch"
	if err := s.ready(op); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE mount_records SET accessed_at = ? WHERE id = ? AND owner = ?`, s.nowMillis(), id, owner)
	return affectedOne(op, res, err, id)
}

// RenameRecord replaces the name of record id in place. A nil name clears it.
func (s *SQLite) RenameRecord(ctx context.Context, owner string, id int64, name *string) error {
	const op = "store.rename"
	if err := s.ready(op); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE mount_records SET name = ? WHERE id = ? AND owner = ?`, nullName(name), id, owner)
	return affectedOne(op, res, err, id)
}

// CountByOwner counts the owner's records.
func (s *SQLite) CountByOwner(ctx context.Context, owner string) (int, error) {
	const op = "store.count_by_owner"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mount_records WHERE owner = ?`, owner).Scan(&n); err != nil {
		return 0, mounterr.Persistence(op, err)
	}
	return n, nil
}

// CountByOwnerAndKind counts the owner's records of kind.
func (s *SQLite) CountByOwnerAndKind(ctx context.Context, owner string, kind mount.Kind) (int, error) {
	const op = "store.count_by_owner_kind"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mount_records WHERE owner = ? AND kind = ?`, owner, string(kind)).Scan(&n); err != nil {
		return 0, mounterr.Persistence(op, err)
	}
	return n, nil
}

// ImportRecords writes recs with their ids preserved in one transaction. Existing ids are
// skipped unless replace is set. It returns the number of rows written.
func (s *SQLite) ImportRecords(ctx context.Context, recs []mount.Record, replace bool) (int, error) {
	const op = "store.import"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, mounterr.Persistence(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	verb := "INSERT OR IGNORE"
	if replace {
		verb = "INSERT OR REPLACE"
	}
	stmt, err := tx.PrepareContext(ctx, verb+` INTO mount_records(`+recordColumns+`) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, mounterr.Persistence(op, err)
	}
	defer stmt.Close()

	written := 0
	for _, r := range recs {
		attrs := r.Attributes
		if attrs == nil {
			attrs = []byte{}
		}
		res, err := stmt.ExecContext(ctx, r.ID, r.Owner, nullName(r.Name), string(r.Kind), attrs, nullBlob(r.Inventory),
			r.CreatedAt.UnixMilli(), r.LastAccessed.UnixMilli())
		if err != nil {
			return 0, mounterr.Persistence(op, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			written++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, mounterr.Persistence(op, err)
	}
	return written, nil
}
