package store

import (
	"context"
	"database/sql"
	"time"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mounterr"
)

const activeColumns = `live_id, owner, mount_id, name, world, x, y, z, spawned_at`

// UpsertActive writes or refreshes the placement row of a live mount.
func (s *SQLite) UpsertActive(ctx context.Context, p mount.ActivePlacement) error {
	const op = "store.upsert_active"
	if err := s.ready(op); err != nil {
		return err
	}
	spawned := p.SpawnedAt
	if spawned.IsZero() {
		spawned = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_mounts(`+activeColumns+`) VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(live_id) DO UPDATE SET
			owner = excluded.owner,
			mount_id = excluded.mount_id,
			name = excluded.name,
			world = excluded.world,
			x = excluded.x, y = excluded.y, z = excluded.z,
			spawned_at = excluded.spawned_at`,
		p.LiveID, p.Owner, p.RecordID, nullName(p.Name), p.Placement.World,
		p.Placement.Pos.X, p.Placement.Pos.Y, p.Placement.Pos.Z, spawned.UTC().UnixMilli(),
	)
	if err != nil {
		return mounterr.Persistence(op, err)
	}
	return nil
}

// RemoveActive deletes the placement row of liveID. Removing a missing row is not an
// error.
func (s *SQLite) RemoveActive(ctx context.Context, liveID string) error {
	const op = "store.remove_active"
	if err := s.ready(op); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_mounts WHERE live_id = ?`, liveID); err != nil {
		return mounterr.Persistence(op, err)
	}
	return nil
}

// ListActiveByOwner returns the owner's placement rows, oldest first.
func (s *SQLite) ListActiveByOwner(ctx context.Context, owner string) ([]mount.ActivePlacement, error) {
	const op = "store.list_active_by_owner"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	return s.queryActive(ctx, op, `SELECT `+activeColumns+` FROM active_mounts WHERE owner = ? ORDER BY spawned_at, live_id`, owner)
}

// ListActive returns every placement row.
func (s *SQLite) ListActive(ctx context.Context) ([]mount.ActivePlacement, error) {
	const op = "store.list_active"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	return s.queryActive(ctx, op, `SELECT `+activeColumns+` FROM active_mounts ORDER BY owner, spawned_at, live_id`)
}

func (s *SQLite) queryActive(ctx context.Context, op, query string, args ...any) ([]mount.ActivePlacement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mounterr.Persistence(op, err)
	}
	defer rows.Close()
	var out []mount.ActivePlacement
	for rows.Next() {
		var (
			p       mount.ActivePlacement
			name    sql.NullString
			spawned int64
		)
		if err := rows.Scan(&p.LiveID, &p.Owner, &p.RecordID, &name, &p.Placement.World,
			&p.Placement.Pos.X, &p.Placement.Pos.Y, &p.Placement.Pos.Z, &spawned); err != nil {
			return nil, mounterr.Persistence(op, err)
		}
		if name.Valid {
			n := name.String
			p.Name = &n
		}
		p.SpawnedAt = fromMillis(spawned)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mounterr.Persistence(op, err)
	}
	return out, nil
}

// SweepStaleActive deletes placement rows spawned before cutoff, except those whose live id
// keep reports as still live, and returns how many went. A nil keep spares nothing.
func (s *SQLite) SweepStaleActive(ctx context.Context, cutoff time.Time, keep func(liveID string) bool) (int64, error) {
	const op = "store.sweep_active"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, mounterr.Persistence(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT live_id FROM active_mounts WHERE spawned_at < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, mounterr.Persistence(op, err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, mounterr.Persistence(op, err)
		}
		if keep != nil && keep(id) {
			continue
		}
		stale = append(stale, id)
	}
	if err := rows.Close(); err != nil {
		return 0, mounterr.Persistence(op, err)
	}
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM active_mounts WHERE live_id = ?`, id); err != nil {
			return 0, mounterr.Persistence(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, mounterr.Persistence(op, err)
	}
	return int64(len(stale)), nil
}
