// Package lifecycle moves mounts between their live and durable forms.
//
// The Manager is the only writer of the live registry and the only caller of the store and
// the codecs. Live objects are touched on the simulation loop only; persistence runs on the
// background I/O pool and its completions are handed back to the loop. Public methods may
// be called from any goroutine except the loop itself.
package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"simplemounts.ai/internal/config"
	"simplemounts.ai/internal/locks"
	"simplemounts.ai/internal/metrics"
	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mount/attr"
	"simplemounts.ai/internal/mount/inventory"
	"simplemounts.ai/internal/mount/kinds"
	"simplemounts.ai/internal/mounterr"
	"simplemounts.ai/internal/persistence/iopool"
	"simplemounts.ai/internal/registry"
	"simplemounts.ai/internal/sim/loop"
	"simplemounts.ai/internal/sim/world"
)

// Store is the durable side.
type Store interface {
	CreateRecord(ctx context.Context, rec mount.Record) (int64, error)
	UpdateRecord(ctx context.Context, id int64, attributes, inventory []byte) error
	GetRecord(ctx context.Context, owner string, id int64) (mount.Record, error)
	ListByOwner(ctx context.Context, owner string) ([]mount.Record, error)
	FindByName(ctx context.Context, owner, name string) ([]mount.Record, error)
	DeleteRecord(ctx context.Context, owner string, id int64) error
	TouchAccessTime(ctx context.Context, owner string, id int64) error
	RenameRecord(ctx context.Context, owner string, id int64, name *string) error
	CountByOwner(ctx context.Context, owner string) (int, error)
	CountByOwnerAndKind(ctx context.Context, owner string, kind mount.Kind) (int, error)

	UpsertActive(ctx context.Context, p mount.ActivePlacement) error
	RemoveActive(ctx context.Context, liveID string) error
	SweepStaleActive(ctx context.Context, cutoff time.Time, keep func(liveID string) bool) (int64, error)
	PruneUntouched(ctx context.Context, cutoff time.Time) (int64, error)
	Vacuum(ctx context.Context) error
}

// Host is the live side. It is only used on the simulation loop.
type Host interface {
	Entity(id string) (*world.Entity, bool)
	Spawn(kind mount.Kind, p mount.Placement, attrs attr.Bag, inv inventory.Snapshot) (*world.Entity, error)
	Remove(id string) bool
	Player(id string) (*world.Player, bool)
	Vehicle(playerID string) (*world.Entity, bool)
	SafeSpot(world string, near mount.Vec3, rule kinds.SpawnRule, radius int) (mount.Vec3, bool)
}

// Entity tags written on claimed and summoned mounts.
const (
	TagOwner  = "simplemounts:owner"
	TagRecord = "simplemounts:record"
	TagName   = "simplemounts:name"
)

// Deps wires a Manager. Config, Store, Pool, Loop and Host are required.
type Deps struct {
	Config   *config.Source
	Store    Store
	Pool     *iopool.Pool
	Loop     *loop.Loop
	Host     Host
	Registry *registry.Registry
	Locks    locks.Locker
	Codec    *inventory.Codec
	Audit    AuditLogger
	Metrics  *metrics.Metrics
	Notifier Notifier
	Logger   *zap.Logger
	Tracer   trace.Tracer
	Now      func() time.Time
}

type Manager struct {
	cfg      *config.Source
	store    Store
	pool     *iopool.Pool
	loop     *loop.Loop
	host     Host
	registry *registry.Registry
	locks    locks.Locker
	codec    *inventory.Codec
	audit    AuditLogger
	metrics  *metrics.Metrics
	notifier Notifier
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time

	// Loop-owned.
	handles  map[string]*mount.Handle // live id -> handle
	byRecord map[int64]string         // record id -> live id
	storing  map[string]*iopool.Future[struct{}]
	// preserved holds inventory blobs that could not be read at summon time, keyed by live
	// id, so a store without inventory changes writes them back untouched.
	preserved map[string][]byte
	// drained marks handles the sync drain stored while an async write was still in flight.
	drained map[string]struct{}

	placements *placementChain
	closing    atomic.Bool
}

func New(d Deps) *Manager {
	m := &Manager{
		cfg:       d.Config,
		store:     d.Store,
		pool:      d.Pool,
		loop:      d.Loop,
		host:      d.Host,
		registry:  d.Registry,
		locks:     d.Locks,
		codec:     d.Codec,
		audit:     d.Audit,
		metrics:   d.Metrics,
		notifier:  d.Notifier,
		logger:    d.Logger,
		tracer:    d.Tracer,
		now:       d.Now,
		handles:   map[string]*mount.Handle{},
		byRecord:  map[int64]string{},
		storing:   map[string]*iopool.Future[struct{}]{},
		preserved: map[string][]byte{},
		drained:   map[string]struct{}{},

		placements: newPlacementChain(),
	}
	if m.registry == nil {
		m.registry = registry.New()
	}
	if m.locks == nil {
		m.locks = locks.New()
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.Named("lifecycle")
	if m.codec == nil {
		m.codec = NewInventoryCodec(d.Config)
	}
	if m.notifier == nil {
		m.notifier = NotifierFunc(func(Notice) {})
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("simplemounts.ai/lifecycle")
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// NewInventoryCodec builds an inventory codec whose built-in detectors follow src.
func NewInventoryCodec(src *config.Source) *inventory.Codec {
	reg := inventory.NewRegistry()
	inventory.RegisterBuiltins(reg, func() inventory.DetectOptions {
		c := src.Current().Codec
		return inventory.DetectOptions{
			KnownNamespaces:      c.ExtensionNamespaces,
			LoreMarkers:          c.ExtensionLoreMarkers,
			ModelDataIsExtension: c.ModelDataIsExtension,
		}
	})
	return inventory.NewCodec(reg)
}

// Registry returns the live registry.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Codec returns the inventory codec so extensions can register detectors and describers.
func (m *Manager) Codec() *inventory.Codec { return m.codec }

// ActiveIDsFor returns the live ids of the owner's active mounts.
func (m *Manager) ActiveIDsFor(owner string) []string { return m.registry.ActiveIDsFor(owner) }

// op carries the bookkeeping of one public operation.
type op struct {
	m     *Manager
	name  string
	start time.Time
	span  trace.Span
	entry AuditEntry
	// audited operations write their own audit entries from the continuation.
	audited bool
}

func (m *Manager) begin(ctx context.Context, name, owner string) (context.Context, *op) {
	ctx, span := m.tracer.Start(ctx, "lifecycle."+name, trace.WithAttributes(attribute.String("owner", owner)))
	return ctx, &op{
		m:     m,
		name:  name,
		start: time.Now(),
		span:  span,
		entry: AuditEntry{Op: name, Owner: owner},
	}
}

func (o *op) record(rec mount.Record) {
	o.entry.RecordID = rec.ID
	o.entry.Name = rec.DisplayName()
	o.entry.Kind = string(rec.Kind)
}

func (o *op) handle(h *mount.Handle) {
	o.entry.RecordID = h.RecordID
	o.entry.LiveID = h.LiveID
	o.entry.Name = h.Name
	o.entry.Kind = string(h.Kind)
}

// end reports the outcome and returns err unchanged.
func (o *op) end(err error) error {
	result := ResultOf(err)
	o.m.metrics.Op(o.name, result, time.Since(o.start))
	o.span.SetAttributes(attribute.String("result", result), attribute.Int64("record_id", o.entry.RecordID))
	if err != nil {
		o.span.SetStatus(codes.Error, result)
		if !mounterr.Terminal(err) {
			o.span.RecordError(err)
		}
	}
	o.span.End()

	fields := []zap.Field{zap.String("op", o.name), zap.String("owner", o.entry.Owner), zap.String("result", result)}
	if o.entry.RecordID != 0 {
		fields = append(fields, zap.Int64("record_id", o.entry.RecordID))
	}
	switch {
	case err == nil:
		o.m.logger.Info("mount "+o.name, fields...)
	case mounterr.Terminal(err):
		o.m.logger.Debug("mount "+o.name+" rejected", append(fields, zap.Error(err))...)
	default:
		o.m.logger.Error("mount "+o.name+" failed", append(fields, zap.Error(err))...)
	}
	if !o.audited {
		o.entry.Result = result
		if err != nil {
			o.entry.Detail = err.Error()
		}
		o.m.writeAudit(o.entry)
	}
	return err
}

// ResultOf is the result code reported for err: "OK" on success.
func ResultOf(err error) string {
	if err == nil {
		return "OK"
	}
	return string(mounterr.CodeOf(err))
}

func (m *Manager) lockOwner(ctx context.Context, opName, owner string) (locks.UnlockFunc, error) {
	lc := m.cfg.Current().Locks
	wctx := ctx
	if lc.Wait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, lc.Wait)
		defer cancel()
	}
	ttl := lc.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	unlock, err := m.locks.Lock(wctx, owner, ttl)
	if err != nil {
		return nil, mounterr.New(mounterr.KindConflict, mounterr.CodeBusy).
			Op(opName).Detail("another operation for %s is in flight", owner).Cause(err).Build()
	}
	return unlock, nil
}

func (m *Manager) release(ctx context.Context, unlock locks.UnlockFunc) {
	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("owner unlock failed", zap.Error(err))
	}
}

func (m *Manager) checkOpen(opName string) error {
	if m.closing.Load() {
		return mounterr.New(mounterr.KindUnavailable, mounterr.CodeShuttingDown).Op(opName).Build()
	}
	return nil
}

func unavailable(opName string, err error) error {
	return mounterr.New(mounterr.KindUnavailable, mounterr.CodeShuttingDown).Op(opName).Cause(err).Build()
}

// onLoop runs fn on the loop and waits for it even if ctx ends, so a step that mutates the
// world is never left with an unknown outcome.
func onLoop[T any](ctx context.Context, m *Manager, opName string, fn func() (T, error)) (T, error) {
	v, err := loop.Do(context.WithoutCancel(ctx), m.loop, fn)
	if errors.Is(err, loop.ErrStopped) {
		return v, unavailable(opName, err)
	}
	return v, err
}

// continueOnLoop runs fn on the loop with f's result. The returned future resolves with
// fn's error, or with the scheduling error if the loop refused the callback.
func continueOnLoop[T any](m *Manager, f *iopool.Future[T], fn func(T, error) error) *iopool.Future[struct{}] {
	out := iopool.NewFuture[struct{}]()
	then := iopool.Then(f, m.loop, func(v T, err error) {
		out.Resolve(struct{}{}, fn(v, err))
	})
	go func() {
		if _, err := then.Wait(context.Background()); err != nil {
			out.Resolve(struct{}{}, err)
		}
	}()
	return out
}

// async runs fn on the pool without waiting; failures are logged.
func (m *Manager) async(what string, fn func(ctx context.Context) error) {
	f := m.pool.Do(context.Background(), fn)
	go func() {
		if _, err := f.Wait(context.Background()); err != nil {
			m.logger.Warn("background "+what+" failed", zap.Error(err))
		}
	}()
}
