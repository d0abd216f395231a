package lifecycle

import (
	"time"

	"go.uber.org/zap"

	"simplemounts.ai/internal/sim/loop"
)

// DistanceMonitor stores mounts whose owner walked away from them. A mount must stay out of
// range for the whole grace period before it is stored, so short spikes are tolerated.
// All methods run on the simulation loop.
type DistanceMonitor struct {
	m      *Manager
	logger *zap.Logger
	// warnings maps live id to the time the current warning started.
	warnings map[string]time.Time
}

func NewDistanceMonitor(m *Manager) *DistanceMonitor {
	return &DistanceMonitor{
		m:        m,
		logger:   m.logger.Named("distance"),
		warnings: map[string]time.Time{},
	}
}

// Register runs Sweep on l every distance.check_every.
func (d *DistanceMonitor) Register(l *loop.Loop) {
	l.Every("distance", func() time.Duration {
		dc := d.m.cfg.Current().Distance
		if !dc.Enabled {
			return 0
		}
		return dc.CheckEvery
	}, func(now time.Time) { d.Sweep(now) })
}

// SweepReport counts what one pass did.
type SweepReport struct {
	Checked int
	Warned  int
	Cleared int
	Stored  int
}

// Sweep checks every active mount against its owner's position.
func (d *DistanceMonitor) Sweep(now time.Time) SweepReport {
	var rep SweepReport
	m := d.m
	dc := m.cfg.Current().Distance
	if !dc.Enabled {
		return rep
	}
	seen := make(map[string]struct{}, len(m.handles))
	for _, h := range m.allHandles() {
		seen[h.LiveID] = struct{}{}
		if _, busy := m.storing[h.LiveID]; busy {
			continue
		}
		e, ok := m.host.Entity(h.LiveID)
		if !ok {
			continue
		}
		h.Placement = e.Placement()
		p, ok := m.host.Player(h.Owner)
		if !ok || !p.Online {
			continue
		}
		rep.Checked++
		started, warned := d.warnings[h.LiveID]
		if p.Vehicle == h.LiveID {
			if warned {
				d.clear(h.LiveID, h.Owner, &rep)
			}
			continue
		}
		dist := -1.0
		if e.World == p.World {
			dist = e.Pos.Distance(p.Pos, dc.Planar)
		}
		if dist >= 0 && dist <= dc.Max {
			if warned {
				d.clear(h.LiveID, h.Owner, &rep)
			}
			continue
		}
		switch {
		case !warned:
			d.warnings[h.LiveID] = now
			rep.Warned++
			m.metrics.Distance("warned")
			m.notifier.Notify(Notice{
				Owner:    h.Owner,
				Code:     NoticeDistanceWarning,
				RecordID: h.RecordID,
				LiveID:   h.LiveID,
				Name:     h.Name,
				Distance: dist,
				Grace:    dc.Grace,
			})
		case now.Sub(started) >= dc.Grace:
			delete(d.warnings, h.LiveID)
			rep.Stored++
			m.metrics.Distance("stored")
			d.logger.Info("auto storing distant mount",
				zap.String("owner", h.Owner), zap.Int64("record_id", h.RecordID), zap.Float64("distance", dist))
			m.storeAsync(h, ReasonDistance)
		}
	}
	for id := range d.warnings {
		if _, ok := seen[id]; !ok {
			delete(d.warnings, id)
		}
	}
	return rep
}

func (d *DistanceMonitor) clear(liveID, owner string, rep *SweepReport) {
	delete(d.warnings, liveID)
	rep.Cleared++
	d.m.metrics.Distance("cleared")
	h := d.m.handles[liveID]
	n := Notice{Owner: owner, Code: NoticeDistanceCleared, LiveID: liveID}
	if h != nil {
		n.RecordID, n.Name = h.RecordID, h.Name
	}
	d.m.notifier.Notify(n)
}

// Pending reports whether liveID has an open warning.
func (d *DistanceMonitor) Pending(liveID string) bool {
	_, ok := d.warnings[liveID]
	return ok
}
