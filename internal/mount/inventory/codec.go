package inventory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"simplemounts.ai/internal/codec/zblob"
	"simplemounts.ai/internal/mounterr"
)

const formatVersion = 1

// Options selects the encoding per call; it tracks live configuration.
type Options struct {
	FullFidelity bool
	Compress     bool
}

// RestoreFunc lets the host platform validate or rebuild an item's extended state after a
// full decode. An error makes the codec retry the slot with the basic decoder.
type RestoreFunc func(*Item) error

// Codec encodes and decodes inventory snapshots. It is safe for concurrent use.
type Codec struct {
	Registry *Registry
	Restore  RestoreFunc
}

func NewCodec(reg *Registry) *Codec {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Codec{Registry: reg}
}

type envelope struct {
	V     int          `json:"v"`
	Size  int          `json:"size"`
	Slots []slotRecord `json:"slots"`
}

type slotRecord struct {
	Slot int    `json:"i"`
	Ext  bool   `json:"ext,omitempty"`
	Full bool   `json:"full,omitempty"`
	Desc string `json:"desc,omitempty"`
	Data []byte `json:"d"`
}

// basicItem is the basic-path projection of Item.
type basicItem struct {
	Type        string   `json:"type"`
	Count       int      `json:"count"`
	DisplayName string   `json:"name,omitempty"`
	Lore        []string `json:"lore,omitempty"`
}

// EncodeReport describes what Encode did per slot.
type EncodeReport struct {
	Slots     int
	Full      int
	Extension int
	Failed    []int
}

// Encode serializes s. Slots outside [0,Size) are rejected.
func (c *Codec) Encode(s Snapshot, opts Options) ([]byte, EncodeReport, error) {
	var rep EncodeReport
	env := envelope{V: formatVersion, Size: s.Size}
	for _, i := range s.SlotIndexes() {
		if i < 0 || i >= s.Size {
			return nil, rep, mounterr.Serialization("inventory.encode", fmt.Errorf("slot %d out of range [0,%d)", i, s.Size))
		}
		it := s.Slots[i]
		if it.Empty() {
			continue
		}
		rec, err := c.encodeSlot(i, it, opts.FullFidelity)
		if err != nil {
			rep.Failed = append(rep.Failed, i)
		}
		full, ext := rec.Full, c.Registry.IsExtensionItem(it)
		rep.Slots++
		if full {
			rep.Full++
		}
		if ext {
			rep.Extension++
		}
		env.Slots = append(env.Slots, rec)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, rep, mounterr.Serialization("inventory.encode", err)
	}
	return zblob.Encode(b, opts.Compress), rep, nil
}

// encodeSlot picks the full path for extension items or when fullFidelity is set. A slot
// whose item cannot be written keeps its description so the reader can substitute a
// placeholder; the returned record is usable even when err is non-nil.
func (c *Codec) encodeSlot(i int, it Item, fullFidelity bool) (slotRecord, error) {
	ext := c.Registry.IsExtensionItem(it)
	rec := slotRecord{Slot: i, Ext: ext, Full: fullFidelity || ext}
	if ext {
		rec.Desc = c.Registry.Describe(it)
	}
	var err error
	if rec.Full {
		rec.Data, err = json.Marshal(it)
	} else {
		rec.Data, err = json.Marshal(basicItem{Type: it.Type, Count: it.Count, DisplayName: it.DisplayName, Lore: it.Lore})
	}
	if err != nil {
		rec.Data = nil
		if rec.Desc == "" {
			rec.Desc = c.Registry.Describe(it)
		}
		rec.Ext = true
	}
	return rec, err
}

// EncodeItem encodes a single item outside a snapshot, using the same path selection as
// Encode.
func (c *Codec) EncodeItem(it Item, fullFidelity bool) ([]byte, error) {
	if it.Empty() {
		return nil, mounterr.Serialization("inventory.encode_item", errors.New("empty item"))
	}
	rec, err := c.encodeSlot(0, it, fullFidelity)
	if err != nil {
		return nil, mounterr.Serialization("inventory.encode_item", err)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, mounterr.Serialization("inventory.encode_item", err)
	}
	return b, nil
}

// DecodeItem reverses EncodeItem with the per-slot fallback of Decode: a failed full decode
// retries the basic path and an unreadable extension item comes back as a placeholder.
func (c *Codec) DecodeItem(b []byte) (Item, error) {
	var rec slotRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return Item{}, mounterr.Serialization("inventory.decode_item", err)
	}
	it, outcome := c.decodeSlot(rec)
	if outcome == slotLost {
		return Item{}, mounterr.Serialization("inventory.decode_item", errors.New("item unreadable"))
	}
	return it, nil
}

// DecodeReport describes per-slot outcomes of Decode.
type DecodeReport struct {
	Compressed   bool
	Slots        int
	Recovered    []int // full decode failed, basic decode succeeded
	Placeholders []int // both failed on an extension slot
	Lost         []int // both failed on an ordinary slot
	OutOfRange   []int
}

// Degraded reports whether any slot did not come back as written.
func (r DecodeReport) Degraded() bool {
	return len(r.Recovered)+len(r.Placeholders)+len(r.Lost)+len(r.OutOfRange) > 0
}

// ErrEmptyBlob is returned by Decode for a missing inventory.
var ErrEmptyBlob = errors.New("inventory: empty blob")

// Decode restores a snapshot. A corrupt slot never fails the call; only an unreadable
// envelope does. For an empty blob it returns ErrEmptyBlob and a zero Snapshot.
func (c *Codec) Decode(blob []byte) (Snapshot, DecodeReport, error) {
	var rep DecodeReport
	if len(bytes.TrimSpace(blob)) == 0 {
		return Snapshot{Slots: map[int]Item{}}, rep, ErrEmptyBlob
	}
	payload, compressed := zblob.Decode(blob)
	rep.Compressed = compressed

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Snapshot{Slots: map[int]Item{}}, rep, mounterr.Serialization("inventory.decode", err)
	}
	if env.V > formatVersion {
		return Snapshot{Slots: map[int]Item{}}, rep, mounterr.Serialization("inventory.decode", fmt.Errorf("unsupported format version %d", env.V))
	}
	if env.Size < 0 {
		env.Size = 0
	}
	snap := NewSnapshot(env.Size)
	for _, rec := range env.Slots {
		if rec.Slot < 0 || rec.Slot >= env.Size {
			rep.OutOfRange = append(rep.OutOfRange, rec.Slot)
			continue
		}
		it, outcome := c.decodeSlot(rec)
		switch outcome {
		case slotRecovered:
			rep.Recovered = append(rep.Recovered, rec.Slot)
		case slotPlaceholder:
			rep.Placeholders = append(rep.Placeholders, rec.Slot)
		case slotLost:
			rep.Lost = append(rep.Lost, rec.Slot)
			continue
		}
		snap.Slots[rec.Slot] = it
		rep.Slots++
	}
	return snap, rep, nil
}

type slotOutcome int

const (
	slotOK slotOutcome = iota
	slotRecovered
	slotPlaceholder
	slotLost
)

func (c *Codec) decodeSlot(rec slotRecord) (Item, slotOutcome) {
	if rec.Full {
		if it, err := c.decodeFull(rec.Data); err == nil {
			return it, slotOK
		}
		if it, err := decodeBasic(rec.Data); err == nil {
			return it, slotRecovered
		}
	} else if it, err := decodeBasic(rec.Data); err == nil {
		return it, slotOK
	}
	if rec.Ext {
		desc := rec.Desc
		if desc == "" {
			desc = fmt.Sprintf("slot %d", rec.Slot)
		}
		return Placeholder(desc), slotPlaceholder
	}
	return Item{}, slotLost
}

func (c *Codec) decodeFull(data []byte) (Item, error) {
	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return Item{}, err
	}
	if it.Empty() {
		return Item{}, errors.New("empty item")
	}
	if c.Restore != nil {
		if err := c.Restore(&it); err != nil {
			return Item{}, err
		}
	}
	return it, nil
}

func decodeBasic(data []byte) (Item, error) {
	var b basicItem
	if err := json.Unmarshal(data, &b); err != nil {
		return Item{}, err
	}
	it := Item{Type: b.Type, Count: b.Count, DisplayName: b.DisplayName, Lore: b.Lore}
	if it.Empty() {
		return Item{}, errors.New("empty item")
	}
	return it, nil
}
