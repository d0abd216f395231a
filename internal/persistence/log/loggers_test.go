package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplemounts.ai/internal/lifecycle"
)

func TestAuditRotatesHourlyAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	now := time.Date(2026, 5, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return now }
	var closed []string
	l.OnClose(func(path string) { closed = append(closed, filepath.Base(path)) })

	require.NoError(t, l.WriteAudit(lifecycle.AuditEntry{Time: now, Op: "claim", Owner: "alice", RecordID: 1, Result: "OK"}))
	require.NoError(t, l.WriteAudit(lifecycle.AuditEntry{Time: now, Op: "summon", Owner: "alice", RecordID: 1, LiveID: "e1", Result: "OK"}))
	now = now.Add(2 * time.Minute)
	require.NoError(t, l.WriteAudit(lifecycle.AuditEntry{Time: now, Op: "store", Owner: "alice", RecordID: 1, Result: "STORE_FAILED", Detail: "disk full"}))
	require.NoError(t, l.Close())

	files, err := filepath.Glob(filepath.Join(dir, "audit", "audit-*.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "audit-2026-05-01-10.jsonl.zst", filepath.Base(files[0]))
	assert.Equal(t, "audit-2026-05-01-11.jsonl.zst", filepath.Base(files[1]))
	assert.Equal(t, []string{"audit-2026-05-01-10.jsonl.zst", "audit-2026-05-01-11.jsonl.zst"}, closed)

	got, err := ReadAudit(dir)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"claim", "summon", "store"}, []string{got[0].Op, got[1].Op, got[2].Op})
	assert.Equal(t, "e1", got[1].LiveID)
	assert.Equal(t, "disk full", got[2].Detail)
	assert.True(t, got[2].Time.Equal(now))
}

func TestAuditAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, op := range []string{"claim", "release"} {
		l := NewAuditLogger(dir)
		l.w.now = func() time.Time { return now }
		require.NoError(t, l.WriteAudit(lifecycle.AuditEntry{Op: op, Owner: "bob", Result: "OK"}))
		require.NoError(t, l.Close())
	}

	got, err := ReadAudit(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "release", got[1].Op)
}

func TestReadAuditMissingDir(t *testing.T) {
	got, err := ReadAudit(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadAuditIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "audit"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "audit", "notes.txt"), []byte("hi"), 0o644))

	got, err := ReadAudit(dir)
	require.NoError(t, err)
	assert.Empty(t, got)
}
