package lifecycle

import (
	"errors"

	"go.uber.org/zap"

	"simplemounts.ai/internal/config"
	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mount/attr"
	"simplemounts.ai/internal/mount/inventory"
	"simplemounts.ai/internal/mount/kinds"
	"simplemounts.ai/internal/mounterr"
	"simplemounts.ai/internal/sim/world"
)

// capture is a copy of a live object's state taken on the loop and safe to hand to the pool.
type capture struct {
	kind      mount.Kind
	attrs     attr.Bag
	inv       inventory.Snapshot
	placement mount.Placement
	// preserved is an unreadable inventory blob to write back when inv is still empty.
	preserved []byte
}

func captureEntity(e *world.Entity) capture {
	attrs := e.Attrs.Clone()
	kinds.Normalize(e.Kind, attrs)
	inv := inventory.Snapshot{Size: e.Inventory.Size, Slots: make(map[int]inventory.Item, len(e.Inventory.Slots))}
	for i, it := range e.Inventory.Slots {
		inv.Slots[i] = it
	}
	return capture{kind: e.Kind, attrs: attrs, inv: inv, placement: e.Placement()}
}

// encoded is a capture in record form.
type encoded struct {
	attrs []byte
	inv   []byte
}

func (m *Manager) encode(c capture, cc config.CodecConfig) (encoded, error) {
	a, err := attr.Encode(c.attrs, cc.Compression)
	if err != nil {
		return encoded{}, err
	}
	if c.preserved != nil && c.inv.IsEmpty() {
		return encoded{attrs: a, inv: c.preserved}, nil
	}
	inv, rep, err := m.codec.Encode(c.inv, inventory.Options{FullFidelity: cc.FullFidelityItems, Compress: cc.Compression})
	if err != nil {
		return encoded{}, err
	}
	if len(rep.Failed) > 0 {
		m.logger.Warn("inventory slots fell back to basic encoding", zap.Ints("slots", rep.Failed))
		m.metrics.Codec("inventory", "encode_fallback", len(rep.Failed))
	}
	return encoded{attrs: a, inv: inv}, nil
}

// decoded is a record's state ready to apply to a new live object.
type decoded struct {
	attrs     attr.Bag
	inv       inventory.Snapshot
	preserved []byte
}

// decode never fails: corrupt attributes yield an empty bag, a corrupt inventory envelope
// yields an empty inventory plus the original blob, and corrupt slots degrade per slot.
func (m *Manager) decode(rec mount.Record) decoded {
	log := m.logger.With(zap.Int64("record_id", rec.ID), zap.String("owner", rec.Owner))

	bag, info := attr.DecodeWithInfo(rec.Attributes)
	if info.Failed && len(rec.Attributes) > 0 {
		log.Warn("attributes unreadable, summoning with defaults")
		m.metrics.Codec("attributes", "empty", 1)
	}
	if info.Skipped > 0 {
		log.Warn("attribute entries dropped", zap.Int("skipped", info.Skipped))
		m.metrics.Codec("attributes", "skipped", info.Skipped)
	}
	kinds.Normalize(rec.Kind, bag)

	size := 0
	if spec, ok := kinds.Lookup(rec.Kind); ok {
		size = spec.InventorySize
	}
	out := decoded{attrs: bag, inv: inventory.NewSnapshot(size)}

	snap, rep, err := m.codec.Decode(rec.Inventory)
	switch {
	case errors.Is(err, inventory.ErrEmptyBlob):
	case err != nil:
		log.Warn("inventory unreadable, keeping the stored blob", zap.Error(err))
		m.metrics.Codec("inventory", "unreadable", 1)
		out.preserved = rec.Inventory
	default:
		if snap.Size < size {
			// A kind that grew keeps its old slots.
			snap.Size = size
		}
		out.inv = snap
		if rep.Degraded() {
			log.Warn("inventory degraded",
				zap.Ints("recovered", rep.Recovered),
				zap.Ints("placeholders", rep.Placeholders),
				zap.Ints("lost", rep.Lost),
				zap.Ints("out_of_range", rep.OutOfRange))
			m.metrics.Codec("inventory", "recovered", len(rep.Recovered))
			m.metrics.Codec("inventory", "placeholder", len(rep.Placeholders))
			m.metrics.Codec("inventory", "lost", len(rep.Lost)+len(rep.OutOfRange))
		}
	}
	return out
}

func serialization(opName string, err error) error {
	var me *mounterr.Error
	if errors.As(err, &me) {
		return err
	}
	return mounterr.Serialization(opName, err)
}
