package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"simplemounts.ai/internal/config"
	"simplemounts.ai/internal/lifecycle"
	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/persistence/backup"
	"simplemounts.ai/internal/persistence/iopool"
	"simplemounts.ai/internal/persistence/store"
	"simplemounts.ai/internal/sim/loop"
	"simplemounts.ai/internal/sim/world"
)

func newTestAdmin(t *testing.T, token string) (*adminAPI, *http.ServeMux) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Storage.DataDir = dir
	cfg.Server.AdminToken = token
	src := config.NewSource(cfg)

	db, err := store.Open(ctx, filepath.Join(dir, "mounts.sqlite"))
	require.NoError(t, err)
	pool := iopool.New(1, 16, nil)
	l := loop.New(loop.Config{TickRateHz: 20}, nil)
	host := world.New(world.Config{Seed: 3}, nil)
	mgr := lifecycle.New(lifecycle.Deps{Config: src, Store: db, Pool: pool, Loop: l, Host: host})
	t.Cleanup(func() {
		pool.Close()
		_ = db.Close()
	})

	a := &adminAPI{
		cfg:      src,
		store:    db,
		pool:     pool,
		loop:     l,
		mgr:      mgr,
		shutdown: lifecycle.NewShutdownCoordinator(mgr),
		sessions: func() int { return 2 },
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) },
	}
	mux := http.NewServeMux()
	a.register(mux)
	return a, mux
}

func serve(mux *http.ServeMux, method, path, remote, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAdminAccessControl(t *testing.T) {
	_, mux := newTestAdmin(t, "s3cret")

	assert.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/admin/v1/state", "127.0.0.1:5000", "").Code)
	assert.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/admin/v1/state", "[::1]:5000", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(mux, http.MethodGet, "/admin/v1/state", "10.0.0.8:5000", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(mux, http.MethodGet, "/admin/v1/state", "10.0.0.8:5000", "wrong").Code)
	assert.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/admin/v1/state", "10.0.0.8:5000", "s3cret").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(mux, http.MethodPost, "/admin/v1/state", "127.0.0.1:5000", "").Code)
}

func TestAdminRemoteDeniedWithoutToken(t *testing.T) {
	_, mux := newTestAdmin(t, "")
	assert.Equal(t, http.StatusForbidden, serve(mux, http.MethodGet, "/admin/v1/state", "192.168.1.2:1", "").Code)
}

func TestAdminState(t *testing.T) {
	a, mux := newTestAdmin(t, "")
	_, err := a.store.CreateRecord(context.Background(), mount.Record{Owner: "alice", Kind: mount.KindHorse, Attributes: []byte(`{}`)})
	require.NoError(t, err)

	rec := serve(mux, http.MethodGet, "/admin/v1/state", "127.0.0.1:1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st adminState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 2, st.Sessions)
	assert.Equal(t, 1, st.Store.Records)
	assert.Zero(t, st.Active)
	assert.False(t, st.Draining)
	assert.Equal(t, 1, st.IO.Workers)
}

func TestAdminExportWritesBackup(t *testing.T) {
	a, mux := newTestAdmin(t, "")
	ctx := context.Background()
	for _, owner := range []string{"alice", "bob"} {
		_, err := a.store.CreateRecord(ctx, mount.Record{Owner: owner, Kind: mount.KindMule, Attributes: []byte(`{}`)})
		require.NoError(t, err)
	}

	rec := serve(mux, http.MethodPost, "/admin/v1/export", "127.0.0.1:1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		OK      bool   `json:"ok"`
		Path    string `json:"path"`
		Records int    `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.OK)
	assert.Equal(t, 2, out.Records)
	assert.Equal(t, "mounts-20260304T050607Z.bak.zst", filepath.Base(out.Path))

	h, err := backup.ReadHeader(out.Path)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Records)
}

func TestAdminReload(t *testing.T) {
	_, mux := newTestAdmin(t, "")
	// A source without a file path reloads as a no-op.
	rec := serve(mux, http.MethodPost, "/admin/v1/reload", "127.0.0.1:1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHostConfigFromWorldSection(t *testing.T) {
	wc := config.Defaults().World
	wc.Seed = 100
	wc.Wild = []config.WildConfig{
		{Kind: "horse", Count: 3, X: 10, Z: -4, Radius: 8},
		{Kind: "dragon", Count: 1},
		{World: "nether", Kind: "STRIDER", Count: 0},
	}
	hc := hostConfig(wc)
	require.Len(t, hc.Worlds, len(wc.Worlds))
	assert.Equal(t, int64(101), hc.Worlds[1].Seed)
	require.Len(t, hc.Wild, 1)
	assert.Equal(t, mount.KindHorse, hc.Wild[0].Kind)
	assert.Equal(t, wc.SpawnWorld, hc.Wild[0].World)
	assert.Equal(t, mount.Vec3{X: 10, Z: -4}, hc.Wild[0].Center)
}

func TestEnvBool(t *testing.T) {
	t.Setenv("SM_TEST_FLAG", "true")
	assert.True(t, envBool("SM_TEST_FLAG", false))
	t.Setenv("SM_TEST_FLAG", "nope")
	assert.False(t, envBool("SM_TEST_FLAG", false))
	os.Unsetenv("SM_TEST_FLAG")
	assert.True(t, envBool("SM_TEST_FLAG", true))
}
