package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"simplemounts.ai/internal/config"
	"simplemounts.ai/internal/lifecycle"
	"simplemounts.ai/internal/persistence/backup"
	"simplemounts.ai/internal/persistence/iopool"
	"simplemounts.ai/internal/persistence/offsite"
	"simplemounts.ai/internal/persistence/store"
	"simplemounts.ai/internal/sim/loop"
)

// adminAPI serves the operator endpoints under /admin/v1. Requests must come from loopback
// or carry the configured admin token.
type adminAPI struct {
	cfg      *config.Source
	store    *store.SQLite
	pool     *iopool.Pool
	loop     *loop.Loop
	mgr      *lifecycle.Manager
	shutdown *lifecycle.ShutdownCoordinator
	mirror   *offsite.Mirror
	sessions func() int
	logger   *zap.Logger
	now      func() time.Time
}

type adminState struct {
	Tick     uint64         `json:"tick"`
	Sessions int            `json:"sessions"`
	Active   int            `json:"active_mounts"`
	Owners   int            `json:"owners_with_active"`
	Draining bool           `json:"draining"`
	Store    store.Stats    `json:"store"`
	IO       iopool.Stats   `json:"io"`
	Offsite  *offsite.Stats `json:"offsite,omitempty"`
}

func (a *adminAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/state", a.guard(http.MethodGet, a.state))
	mux.HandleFunc("/admin/v1/export", a.guard(http.MethodPost, a.export))
	mux.HandleFunc("/admin/v1/reload", a.guard(http.MethodPost, a.reload))
	mux.HandleFunc("/admin/v1/unload", a.guard(http.MethodPost, a.unload))
}

func (a *adminAPI) guard(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !a.authorized(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *adminAPI) authorized(r *http.Request) bool {
	if isLoopbackRemote(r.RemoteAddr) {
		return true
	}
	token := a.cfg.Current().Server.AdminToken
	if token == "" {
		return false
	}
	got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

func (a *adminAPI) state(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := a.store.Stats(ctx)
	if err != nil {
		writeAdminJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	reg := a.mgr.Registry()
	writeAdminJSON(rw, http.StatusOK, adminState{
		Tick:     a.loop.Tick(),
		Sessions: a.sessions(),
		Active:   reg.Len(),
		Owners:   len(reg.Owners()),
		Draining: a.shutdown.Draining(),
		Store:    st,
		IO:       a.pool.Stats(),
		Offsite:  offsiteStats(a.mirror),
	})
}

// export writes a backup of every record into <data_dir>/backups.
func (a *adminAPI) export(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	now := a.now().UTC()
	name := fmt.Sprintf("mounts-%s.bak.zst", now.Format("20060102T150405Z"))
	path := filepath.Join(a.cfg.Current().Storage.DataDir, "backups", name)
	h, err := backup.Export(ctx, a.store, path, now)
	if err != nil {
		a.logger.Warn("admin export failed", zap.String("path", path), zap.Error(err))
		writeAdminJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	a.logger.Info("admin export written", zap.String("path", path), zap.Int("records", h.Records))
	a.mirror.Enqueue(path)
	writeAdminJSON(rw, http.StatusOK, map[string]any{"ok": true, "path": path, "records": h.Records})
}

func (a *adminAPI) reload(rw http.ResponseWriter, r *http.Request) {
	if err := a.cfg.Reload(); err != nil {
		writeAdminJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	a.logger.Info("config reloaded via admin endpoint")
	writeAdminJSON(rw, http.StatusOK, map[string]any{"ok": true})
}

// unload stores every mount standing in ?world= ahead of taking that world offline.
func (a *adminAPI) unload(rw http.ResponseWriter, r *http.Request) {
	w := strings.TrimSpace(r.URL.Query().Get("world"))
	if w == "" {
		writeAdminJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "world is required"})
		return
	}
	timeout := 2 * a.cfg.Current().Shutdown.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	rep := a.shutdown.Unload(ctx, w)
	if rep.Mode == lifecycle.DrainSkipped {
		writeAdminJSON(rw, http.StatusConflict, map[string]any{"ok": false, "error": "a drain is already running", "drain": rep})
		return
	}
	a.logger.Info("world unloaded via admin endpoint", zap.String("world", w), zap.Int("stored", rep.Stored), zap.Int("failed", rep.Failed))
	writeAdminJSON(rw, http.StatusOK, map[string]any{"ok": rep.Failed == 0, "drain": rep})
}

func offsiteStats(m *offsite.Mirror) *offsite.Stats {
	if m == nil {
		return nil
	}
	st := m.Stats()
	return &st
}

func writeAdminJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
