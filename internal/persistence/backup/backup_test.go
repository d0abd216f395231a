package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/persistence/store"
)

func seed(t *testing.T, s *store.SQLite) []int64 {
	t.Helper()
	ctx := context.Background()
	var ids []int64
	for _, rec := range []mount.Record{
		{Owner: "alice", Name: mount.NamePtr("Thunder"), Kind: mount.KindHorse, Attributes: []byte(`{"v":1,"a":{}}`)},
		{Owner: "alice", Kind: mount.KindDonkey, Attributes: []byte(`{"v":1,"a":{}}`), Inventory: []byte{0x28, 0xb5, 0x2f, 0xfd, 0x01}},
		{Owner: "bob", Name: mount.NamePtr("Storm"), Kind: mount.KindCamel, Attributes: []byte(`{}`)},
	} {
		id, err := s.CreateRecord(ctx, rec)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src, err := store.Open(ctx, filepath.Join(dir, "src.sqlite"))
	require.NoError(t, err)
	defer src.Close()
	ids := seed(t, src)

	path := filepath.Join(dir, "backups", "mounts.bak.zst")
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	h, err := Export(ctx, src, path, now)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Records)

	hdr, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, Version, hdr.Version)
	assert.True(t, hdr.CreatedAt.Equal(now))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	dst, err := store.Open(ctx, filepath.Join(dir, "dst.sqlite"))
	require.NoError(t, err)
	defer dst.Close()
	n, err := Import(ctx, dst, path, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := dst.GetRecord(ctx, "alice", ids[1])
	require.NoError(t, err)
	assert.Nil(t, got.Name)
	assert.Equal(t, mount.KindDonkey, got.Kind)
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd, 0x01}, got.Inventory)

	named, err := dst.FindByName(ctx, "bob", "Storm")
	require.NoError(t, err)
	require.Len(t, named, 1)
	assert.Equal(t, ids[2], named[0].ID)

	// A second import skips ids that already exist.
	n, err = Import(ctx, dst, path, false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReadRejectsOtherVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.bak.zst")
	require.NoError(t, Write(path, BackupV1{Header: Header{Version: 9}}))
	_, err := Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported backup version 9")
}

func TestImportRejectsUnknownKind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.bak.zst")
	require.NoError(t, Write(path, BackupV1{
		Header:  Header{Version: Version, Records: 1},
		Records: []RecordV1{{ID: 1, Owner: "alice", Kind: "DRAGON"}},
	}))
	dst, err := store.Open(ctx, filepath.Join(dir, "dst.sqlite"))
	require.NoError(t, err)
	defer dst.Close()

	_, err = Import(ctx, dst, path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DRAGON")
}
