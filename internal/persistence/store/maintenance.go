package store

import (
	"context"
	"time"

	"simplemounts.ai/internal/mounterr"
)

// PruneUntouched deletes records not accessed since cutoff. Records referenced by a
// placement row are kept.
func (s *SQLite) PruneUntouched(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "store.prune"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM mount_records
		WHERE accessed_at < ?
		AND id NOT IN (SELECT mount_id FROM active_mounts)`,
		cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, mounterr.Persistence(op, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Vacuum reclaims free pages.
func (s *SQLite) Vacuum(ctx context.Context) error {
	const op = "store.vacuum"
	if err := s.ready(op); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return mounterr.Persistence(op, err)
	}
	return nil
}

// Stats summarizes the database for operators.
type Stats struct {
	Records       int   `json:"records"`
	Owners        int   `json:"owners"`
	ActiveRows    int   `json:"active_rows"`
	SizeBytes     int64 `json:"size_bytes"`
	SchemaVersion int   `json:"schema_version"`
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	const op = "store.stats"
	var st Stats
	if err := s.ready(op); err != nil {
		return st, err
	}
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT owner) FROM mount_records`).Scan(&st.Records, &st.Owners)
	if err == nil {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM active_mounts`).Scan(&st.ActiveRows)
	}
	if err == nil {
		var pages, pageSize int64
		if err = s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err == nil {
			err = s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize)
			st.SizeBytes = pages * pageSize
		}
	}
	if err == nil {
		st.SchemaVersion, err = s.schemaVersion(ctx)
	}
	if err != nil {
		return Stats{}, mounterr.Persistence(op, err)
	}
	return st, nil
}
