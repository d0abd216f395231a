package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"simplemounts.ai/internal/lifecycle"
)

// stuckDrainer blocks Graceful until its context ends, like a drain that cannot take the loop.
type stuckDrainer struct {
	gracefulStarted chan struct{}
	emergencies     atomic.Int32
	emergencyHasDL  atomic.Bool
}

func (d *stuckDrainer) Graceful(ctx context.Context) lifecycle.DrainReport {
	close(d.gracefulStarted)
	<-ctx.Done()
	return lifecycle.DrainReport{Mode: lifecycle.DrainFallback, Stored: 2, Failed: 1, TimedOut: true}
}

func (d *stuckDrainer) Emergency(ctx context.Context) lifecycle.DrainReport {
	d.emergencies.Add(1)
	_, ok := ctx.Deadline()
	d.emergencyHasDL.Store(ok)
	return lifecycle.DrainReport{Mode: lifecycle.DrainSync, Stored: 1}
}

func TestSecondSignalForcesEmergencyDrain(t *testing.T) {
	d := &stuckDrainer{gracefulStarted: make(chan struct{})}
	again := make(chan os.Signal, 1)

	done := make(chan lifecycle.DrainReport, 1)
	go func() { done <- drainOnShutdown(d, time.Minute, again, zap.NewNop()) }()
	<-d.gracefulStarted
	again <- syscall.SIGTERM

	select {
	case rep := <-done:
		assert.Equal(t, lifecycle.DrainSync, rep.Mode)
		assert.Equal(t, 3, rep.Stored)
		assert.Equal(t, 0, rep.Failed)
		assert.True(t, rep.TimedOut)
	case <-time.After(5 * time.Second):
		t.Fatal("drain did not return after the second signal")
	}
	assert.Equal(t, int32(1), d.emergencies.Load())
	assert.True(t, d.emergencyHasDL.Load())
}

func TestGracefulDrainIsBounded(t *testing.T) {
	d := &stuckDrainer{gracefulStarted: make(chan struct{})}

	start := time.Now()
	rep := drainOnShutdown(d, 50*time.Millisecond, nil, zap.NewNop())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, lifecycle.DrainFallback, rep.Mode)
	assert.Zero(t, d.emergencies.Load())
}

func TestAdminUnloadRequiresWorld(t *testing.T) {
	_, mux := newTestAdmin(t, "")
	rec := serve(mux, http.MethodPost, "/admin/v1/unload", "127.0.0.1:1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminUnloadDrainsWorld(t *testing.T) {
	a, mux := newTestAdmin(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = a.loop.Run(ctx) }()

	rec := serve(mux, http.MethodPost, "/admin/v1/unload?world=world", "127.0.0.1:1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		OK    bool                  `json:"ok"`
		Drain lifecycle.DrainReport `json:"drain"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Equal(t, lifecycle.DrainAsync, body.Drain.Mode)
	assert.False(t, a.shutdown.Draining())
}
