package inventory

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplemounts.ai/internal/codec/zblob"
	"simplemounts.ai/internal/mounterr"
)

func testCodec() *Codec {
	reg := NewRegistry()
	RegisterBuiltins(reg, func() DetectOptions {
		return DetectOptions{
			KnownNamespaces: []string{"minecraft"},
			LoreMarkers:     []string{`^§8\[Artifact\]`},
		}
	})
	return NewCodec(reg)
}

func intPtr(v int) *int { return &v }

func saddleBags() Snapshot {
	s := NewSnapshot(17)
	_ = s.Set(0, Item{Type: "SADDLE", Count: 1})
	_ = s.Set(1, Item{Type: "IRON_HORSE_ARMOR", Count: 1, DisplayName: "Plate", Lore: []string{"dented"}})
	_ = s.Set(5, Item{
		Type:        "DIAMOND_SWORD",
		Count:       1,
		DisplayName: "Excalibur",
		Keys:        map[string]string{"legendarium:id": "excalibur", "minecraft:repair": "3"},
		ModelData:   intPtr(1001),
		State:       []byte{0x01, 0x02, 0x03},
	})
	_ = s.Set(16, Item{Type: "WHEAT", Count: 64, ModelData: intPtr(7)})
	return s
}

func TestRoundTrip_BasicPathKeepsExtensionItemsFull(t *testing.T) {
	c := testCodec()
	in := saddleBags()

	blob, rep, err := c.Encode(in, Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Slots)
	assert.Equal(t, 1, rep.Extension)
	assert.Equal(t, 1, rep.Full)

	out, drep, err := c.Decode(blob)
	require.NoError(t, err)
	assert.False(t, drep.Degraded())
	assert.Equal(t, 17, out.Size)
	assert.Equal(t, in.Slots[5], out.Slots[5], "extension item keeps keys, model data and state")
	assert.Equal(t, in.Slots[1], out.Slots[1])

	// Non-extension items lose full-path fields on the basic path.
	assert.Nil(t, out.Slots[16].ModelData)
	assert.Equal(t, 64, out.Slots[16].Count)
}

func TestRoundTrip_FullFidelityCompressed(t *testing.T) {
	c := testCodec()
	in := saddleBags()

	blob, rep, err := c.Encode(in, Options{FullFidelity: true, Compress: true})
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Full)
	assert.True(t, zblob.IsCompressed(blob))

	out, drep, err := c.Decode(blob)
	require.NoError(t, err)
	assert.True(t, drep.Compressed)
	assert.Equal(t, in.Slots, out.Slots)
}

func TestDecode_RestoreFailureFallsBackToBasic(t *testing.T) {
	c := testCodec()
	blob, _, err := c.Encode(saddleBags(), Options{})
	require.NoError(t, err)

	c.Restore = func(it *Item) error {
		if len(it.State) > 0 {
			return errors.New("unknown state version")
		}
		return nil
	}
	out, rep, err := c.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, rep.Recovered)

	got := out.Slots[5]
	assert.Equal(t, "DIAMOND_SWORD", got.Type)
	assert.Equal(t, "Excalibur", got.DisplayName)
	assert.Nil(t, got.State)
}

func corruptSlot(t *testing.T, blob []byte, slot int) []byte {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(blob, &env))
	for i := range env.Slots {
		if env.Slots[i].Slot == slot {
			env.Slots[i].Data = []byte("{not json")
		}
	}
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

func TestDecode_CorruptExtensionSlotBecomesPlaceholder(t *testing.T) {
	c := testCodec()
	blob, _, err := c.Encode(saddleBags(), Options{})
	require.NoError(t, err)

	out, rep, err := c.Decode(corruptSlot(t, blob, 5))
	require.NoError(t, err)
	assert.Equal(t, []int{5}, rep.Placeholders)

	ph := out.Slots[5]
	assert.True(t, IsPlaceholder(ph))
	require.Len(t, ph.Lore, 1)
	assert.Equal(t, "failed to load: Excalibur (DIAMOND_SWORD x1)", ph.Lore[0])

	// The rest of the inventory is untouched.
	assert.Equal(t, "SADDLE", out.Slots[0].Type)
	assert.Len(t, out.Slots, 4)
}

func TestDecode_CorruptOrdinarySlotIsReportedLost(t *testing.T) {
	c := testCodec()
	blob, _, err := c.Encode(saddleBags(), Options{})
	require.NoError(t, err)

	out, rep, err := c.Decode(corruptSlot(t, blob, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, rep.Lost)
	_, ok := out.Get(0)
	assert.False(t, ok)
	assert.Len(t, out.Slots, 3)
}

func TestDecode_OutOfRangeSlotsDropped(t *testing.T) {
	c := testCodec()
	raw := []byte(`{"v":1,"size":2,"slots":[{"i":1,"d":"eyJ0eXBlIjoiU0FERExFIiwiY291bnQiOjF9"},{"i":9,"d":"eyJ0eXBlIjoiU0FERExFIiwiY291bnQiOjF9"}]}`)
	out, rep, err := c.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, []int{9}, rep.OutOfRange)
	assert.Equal(t, "SADDLE", out.Slots[1].Type)
}

func TestDecode_EnvelopeErrors(t *testing.T) {
	c := testCodec()

	_, _, err := c.Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyBlob)

	_, _, err = c.Decode([]byte("garbage"))
	assert.True(t, errors.Is(err, mounterr.ErrSerialization))

	_, _, err = c.Decode([]byte(`{"v":99,"size":1,"slots":[]}`))
	assert.True(t, errors.Is(err, mounterr.ErrSerialization))
}

func TestEncode_RejectsOutOfRangeSlot(t *testing.T) {
	c := testCodec()
	s := Snapshot{Size: 2, Slots: map[int]Item{4: {Type: "SADDLE", Count: 1}}}
	_, _, err := c.Encode(s, Options{})
	assert.Error(t, err)
}

func TestSnapshotSet(t *testing.T) {
	s := NewSnapshot(3)
	require.NoError(t, s.Set(2, Item{Type: "CHEST", Count: 1}))
	require.NoError(t, s.Set(2, Item{Type: "CHEST", Count: 0}))
	assert.True(t, s.IsEmpty())
	assert.Error(t, s.Set(3, Item{Type: "CHEST", Count: 1}))
	assert.Error(t, s.Set(-1, Item{Type: "CHEST", Count: 1}))
}

func TestEncodeItemDecodeItem(t *testing.T) {
	c := testCodec()
	sword := saddleBags().Slots[5]

	b, err := c.EncodeItem(sword, false)
	require.NoError(t, err)
	got, err := c.DecodeItem(b)
	require.NoError(t, err)
	assert.Equal(t, sword, got)

	wheat := Item{Type: "WHEAT", Count: 3, ModelData: intPtr(7)}
	b, err = c.EncodeItem(wheat, false)
	require.NoError(t, err)
	got, err = c.DecodeItem(b)
	require.NoError(t, err)
	assert.Equal(t, Item{Type: "WHEAT", Count: 3}, got)

	_, err = c.EncodeItem(Item{}, false)
	assert.Equal(t, mounterr.KindSerialization, mounterr.KindOf(err))
}

func TestDecodeItemFallbacks(t *testing.T) {
	c := testCodec()
	b, err := c.EncodeItem(saddleBags().Slots[5], false)
	require.NoError(t, err)

	var rec slotRecord
	require.NoError(t, json.Unmarshal(b, &rec))
	rec.Data = []byte("{not json")
	broken, err := json.Marshal(rec)
	require.NoError(t, err)
	ph, err := c.DecodeItem(broken)
	require.NoError(t, err)
	assert.True(t, IsPlaceholder(ph))

	plain, err := json.Marshal(slotRecord{Data: []byte("{not json")})
	require.NoError(t, err)
	_, err = c.DecodeItem(plain)
	require.Error(t, err)
	_, err = c.DecodeItem([]byte("nope"))
	require.Error(t, err)
}
