package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mounterr"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func openTest(t *testing.T) (*SQLite, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "mounts.sqlite"), WithClock(clk.now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

func horse(owner, name string) mount.Record {
	return mount.Record{
		Owner:      owner,
		Name:       mount.NamePtr(name),
		Kind:       mount.KindHorse,
		Attributes: []byte(`{"v":1,"a":{}}`),
	}
}

func TestRecordCRUD(t *testing.T) {
	ctx := context.Background()
	s, clk := openTest(t)

	id, err := s.CreateRecord(ctx, horse("alice", "Thunder"))
	require.NoError(t, err)
	require.Positive(t, id)

	rec, err := s.GetRecord(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, "Thunder", rec.DisplayName())
	assert.Equal(t, mount.KindHorse, rec.Kind)
	assert.Nil(t, rec.Inventory)
	assert.WithinDuration(t, clk.t, rec.CreatedAt, 0)

	clk.t = clk.t.Add(time.Hour)
	require.NoError(t, s.UpdateRecord(ctx, id, []byte("attrs-2"), []byte("inv-2")))
	rec, err = s.GetRecord(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, []byte("attrs-2"), rec.Attributes)
	assert.Equal(t, []byte("inv-2"), rec.Inventory)
	assert.WithinDuration(t, clk.t, rec.LastAccessed, 0)

	n, err := s.CountByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.CountByOwnerAndKind(ctx, "alice", mount.KindHorse)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.CountByOwnerAndKind(ctx, "alice", mount.KindPig)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.DeleteRecord(ctx, "alice", id))
	_, err = s.GetRecord(ctx, "alice", id)
	assert.True(t, errors.Is(err, mounterr.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteRecord(ctx, "alice", id), mounterr.ErrNotFound))
}

func TestGetRecord_OtherOwnerIsProtection(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t)
	id, err := s.CreateRecord(ctx, horse("alice", "Thunder"))
	require.NoError(t, err)

	_, err = s.GetRecord(ctx, "mallory", id)
	assert.True(t, errors.Is(err, mounterr.ErrProtection))
	assert.True(t, errors.Is(s.DeleteRecord(ctx, "mallory", id), mounterr.ErrNotFound))
}

func TestUnnamedRecordIsNotAMiss(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t)
	id, err := s.CreateRecord(ctx, horse("alice", ""))
	require.NoError(t, err)

	rec, err := s.GetRecord(ctx, "alice", id)
	require.NoError(t, err)
	assert.Nil(t, rec.Name)
	assert.Equal(t, "", rec.DisplayName())
}

func TestRenameKeepsID(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t)
	id, err := s.CreateRecord(ctx, horse("alice", "Thunder"))
	require.NoError(t, err)

	require.NoError(t, s.RenameRecord(ctx, "alice", id, mount.NamePtr("Storm")))

	got, err := s.FindByName(ctx, "alice", "storm")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)

	got, err = s.FindByName(ctx, "alice", "Thunder")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.RenameRecord(ctx, "alice", id, nil))
	rec, err := s.GetRecord(ctx, "alice", id)
	require.NoError(t, err)
	assert.Nil(t, rec.Name)
}

func TestDuplicateNamesPermitted(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t)
	_, err := s.CreateRecord(ctx, horse("alice", "Thunder"))
	require.NoError(t, err)
	_, err = s.CreateRecord(ctx, horse("alice", "Thunder"))
	require.NoError(t, err)
	_, err = s.CreateRecord(ctx, horse("bob", "Thunder"))
	require.NoError(t, err)

	got, err := s.FindByName(ctx, "alice", "THUNDER")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestTouchAccessTime(t *testing.T) {
	ctx := context.Background()
	s, clk := openTest(t)
	id, err := s.CreateRecord(ctx, horse("alice", "Thunder"))
	require.NoError(t, err)

	clk.t = clk.t.Add(48 * time.Hour)
	require.NoError(t, s.TouchAccessTime(ctx, "alice", id))
	rec, err := s.GetRecord(ctx, "alice", id)
	require.NoError(t, err)
	assert.WithinDuration(t, clk.t, rec.LastAccessed, 0)
	assert.True(t, rec.CreatedAt.Before(rec.LastAccessed))
}

func TestActivePlacements(t *testing.T) {
	ctx := context.Background()
	s, clk := openTest(t)

	p := mount.ActivePlacement{
		LiveID:    "live-1",
		Owner:     "alice",
		RecordID:  7,
		Name:      mount.NamePtr("Thunder"),
		Placement: mount.Placement{World: "overworld", Pos: mount.Vec3{X: 1, Y: 64, Z: -3}},
		SpawnedAt: clk.t,
	}
	require.NoError(t, s.UpsertActive(ctx, p))
	p.Placement.Pos.X = 10
	require.NoError(t, s.UpsertActive(ctx, p))
	require.NoError(t, s.UpsertActive(ctx, mount.ActivePlacement{LiveID: "live-2", Owner: "bob", RecordID: 8, Placement: p.Placement}))

	got, err := s.ListActiveByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p, got[0])

	all, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.RemoveActive(ctx, "live-1"))
	require.NoError(t, s.RemoveActive(ctx, "live-1"))
	got, err = s.ListActiveByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSweepStaleActiveSparesLiveRows(t *testing.T) {
	ctx := context.Background()
	s, clk := openTest(t)
	old := clk.t.Add(-2 * time.Hour)
	for _, id := range []string{"orphan", "live"} {
		require.NoError(t, s.UpsertActive(ctx, mount.ActivePlacement{LiveID: id, Owner: "alice", RecordID: 1, SpawnedAt: old}))
	}
	require.NoError(t, s.UpsertActive(ctx, mount.ActivePlacement{LiveID: "fresh", Owner: "alice", RecordID: 2, SpawnedAt: clk.t}))

	n, err := s.SweepStaleActive(ctx, clk.t.Add(-time.Hour), func(id string) bool { return id == "live" })
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := s.ListActive(ctx)
	require.NoError(t, err)
	var ids []string
	for _, r := range rows {
		ids = append(ids, r.LiveID)
	}
	assert.ElementsMatch(t, []string{"live", "fresh"}, ids)
}

func TestPruneUntouchedKeepsActiveRecords(t *testing.T) {
	ctx := context.Background()
	s, clk := openTest(t)

	stale, err := s.CreateRecord(ctx, horse("alice", "Old"))
	require.NoError(t, err)
	activeOld, err := s.CreateRecord(ctx, horse("alice", "Ridden"))
	require.NoError(t, err)
	require.NoError(t, s.UpsertActive(ctx, mount.ActivePlacement{LiveID: "l", Owner: "alice", RecordID: activeOld}))

	clk.t = clk.t.Add(100 * 24 * time.Hour)
	fresh, err := s.CreateRecord(ctx, horse("alice", "New"))
	require.NoError(t, err)

	n, err := s.PruneUntouched(ctx, clk.t.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, s.Vacuum(ctx))

	_, err = s.GetRecord(ctx, "alice", stale)
	assert.True(t, errors.Is(err, mounterr.ErrNotFound))
	for _, id := range []int64{activeOld, fresh} {
		_, err = s.GetRecord(ctx, "alice", id)
		assert.NoError(t, err)
	}

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Records)
	assert.Equal(t, 1, st.ActiveRows)
	assert.Equal(t, SchemaVersion, st.SchemaVersion)
	assert.Positive(t, st.SizeBytes)
}

func TestImportRecordsPreservesIDs(t *testing.T) {
	ctx := context.Background()
	s, clk := openTest(t)
	recs := []mount.Record{
		{ID: 40, Owner: "alice", Name: mount.NamePtr("A"), Kind: mount.KindPig, Attributes: []byte("x"), CreatedAt: clk.t, LastAccessed: clk.t},
		{ID: 41, Owner: "bob", Kind: mount.KindCamel, Attributes: []byte("y"), Inventory: []byte("inv"), CreatedAt: clk.t, LastAccessed: clk.t},
	}
	n, err := s.ImportRecords(ctx, recs, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.ImportRecords(ctx, recs, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := s.GetRecord(ctx, "bob", 41)
	require.NoError(t, err)
	assert.Equal(t, []byte("inv"), got.Inventory)

	id, err := s.CreateRecord(ctx, horse("alice", "Next"))
	require.NoError(t, err)
	assert.Greater(t, id, int64(41))
}

func TestClosedStore(t *testing.T) {
	s, _ := openTest(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err := s.CountByOwner(context.Background(), "alice")
	assert.True(t, errors.Is(err, mounterr.ErrPersistence))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestConfigKV(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t)
	_, ok, err := s.GetConfig(ctx, "motd")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetConfig(ctx, "motd", "hi"))
	v, ok, err := s.GetConfig(ctx, "motd")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hi", v)

	v, ok, err = s.GetConfig(ctx, schemaVersionKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

// Legacy databases predate schema versioning.

func writeLegacy(t *testing.T, path string, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	for _, st := range stmts {
		_, err := db.Exec(st)
		require.NoError(t, err, st)
	}
}

func TestMigrate_LegacyUniqueConstraintRebuilt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.sqlite")
	writeLegacy(t, path,
		`CREATE TABLE mount_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			name TEXT,
			kind TEXT NOT NULL,
			attributes BLOB NOT NULL,
			inventory BLOB,
			created_at INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL,
			UNIQUE(owner, name)
		)`,
		`CREATE TABLE active_mounts (
			live_id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT,
			world TEXT NOT NULL,
			x REAL NOT NULL, y REAL NOT NULL, z REAL NOT NULL,
			spawned_at INTEGER NOT NULL
		)`,
		`INSERT INTO mount_records(id, owner, name, kind, attributes, created_at, accessed_at)
			VALUES(5, 'alice', 'Thunder', 'HORSE', x'00', 1000, 2000)`,
		`INSERT INTO active_mounts VALUES('old-live', 'alice', 'Thunder', 'overworld', 0, 64, 0, 1000)`,
	)

	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.GetRecord(ctx, "alice", 5)
	require.NoError(t, err)
	assert.Equal(t, "Thunder", rec.DisplayName())
	assert.Equal(t, int64(2000), rec.LastAccessed.UnixMilli())

	_, err = s.CreateRecord(ctx, horse("alice", "Thunder"))
	require.NoError(t, err, "duplicate names are allowed after migration")

	rows, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0].RecordID)

	// Reopening is a no-op.
	require.NoError(t, s.Close())
	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()
	n, err := s2.CountByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMigrate_LegacyUniqueIndexDropped(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy-index.sqlite")
	writeLegacy(t, path,
		`CREATE TABLE mount_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			name TEXT,
			kind TEXT NOT NULL,
			attributes BLOB NOT NULL,
			inventory BLOB,
			created_at INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_owner_name ON mount_records(owner, name)`,
		`INSERT INTO mount_records(owner, name, kind, attributes, created_at, accessed_at)
			VALUES('alice', 'Thunder', 'HORSE', x'00', 1000, 1000)`,
	)

	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreateRecord(ctx, horse("alice", "Thunder"))
	require.NoError(t, err)
	got, err := s.FindByName(ctx, "alice", "thunder")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
