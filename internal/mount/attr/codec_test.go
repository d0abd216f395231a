package attr

import (
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplemounts.ai/internal/codec/zblob"
)

func sampleBag() Bag {
	b := New()
	b.SetFloat("max_health", 28.5)
	b.SetFloat("movement_speed", 0.3375)
	b.SetFloat("jump_strength", 0.92)
	b.SetInt("age", 0)
	b.SetBool("tamed", true)
	b.SetString("color", "CHESTNUT")
	b.SetInt("domestication", math.MaxInt64)
	return b
}

func TestRoundTrip_WithAndWithoutCompression(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(strconv.FormatBool(compress), func(t *testing.T) {
			in := sampleBag()
			blob, err := Encode(in, compress)
			require.NoError(t, err)
			assert.Equal(t, compress, zblob.IsCompressed(blob))

			out, info := DecodeWithInfo(blob)
			assert.Equal(t, compress, info.Compressed)
			assert.False(t, info.Failed)
			assert.True(t, in.Equal(out), "got %v", out)
		})
	}
}

func TestRoundTrip_RandomBags(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		in := New()
		n := rng.Intn(12)
		for j := 0; j < n; j++ {
			name := "k" + strconv.Itoa(rng.Intn(1000))
			switch rng.Intn(4) {
			case 0:
				in.SetInt(name, rng.Int63()-rng.Int63())
			case 1:
				in.SetFloat(name, rng.NormFloat64()*1e6)
			case 2:
				in.SetBool(name, rng.Intn(2) == 0)
			default:
				in.SetString(name, strconv.FormatUint(rng.Uint64(), 36))
			}
		}
		blob, err := Encode(in, i%2 == 0)
		require.NoError(t, err)
		assert.True(t, in.Equal(Decode(blob)), "iteration %d", i)
	}
}

func TestRoundTrip_UnknownKeysKeepExactValue(t *testing.T) {
	in := sampleBag()
	in.SetString("thirdparty:soulbound_to", "069a79f4-44e9-4726-a5be-fca90e38aaf5")
	in.SetFloat("thirdparty:weird", math.Float64frombits(0x7ff8000000000001))
	in.SetFloat("thirdparty:inf", math.Inf(-1))
	in.SetString("thirdparty:binary", string([]byte{0xff, 0xfe, 'a', 0x00}))

	blob, err := Encode(in, true)
	require.NoError(t, err)
	out := Decode(blob)

	for _, k := range []string{"thirdparty:soulbound_to", "thirdparty:weird", "thirdparty:inf", "thirdparty:binary"} {
		want, _ := in.Get(k)
		got, ok := out.Get(k)
		require.True(t, ok, k)
		assert.True(t, want.Equal(got), k)
	}
	s, _ := out["thirdparty:binary"].AsString()
	assert.Equal(t, []byte{0xff, 0xfe, 'a', 0x00}, []byte(s))
}

func TestRoundTrip_IntStaysInt(t *testing.T) {
	in := New()
	in.SetInt("strength", 5)
	in.SetFloat("speed", 5)

	blob, err := Encode(in, false)
	require.NoError(t, err)
	out := Decode(blob)

	assert.Equal(t, TypeInt, out["strength"].Type())
	assert.Equal(t, TypeFloat, out["speed"].Type())
}

func TestDecode_EmptyOrGarbageReturnsEmptyBag(t *testing.T) {
	cases := []struct {
		blob   []byte
		failed bool
	}{
		{nil, false},
		{[]byte{}, false},
		{[]byte("   "), false},
		{[]byte("not json"), true},
		{[]byte(`[1,2,3]`), true},
	}
	for _, tc := range cases {
		out, info := DecodeWithInfo(tc.blob)
		require.NotNil(t, out)
		assert.Empty(t, out)
		assert.Equal(t, tc.failed, info.Failed, "%q", tc.blob)
	}
}

func TestDecode_CorruptCompressedFallsBackToText(t *testing.T) {
	// A blob that merely starts with the frame magic but is really text cannot be parsed
	// either way; the codec must still hand back an empty bag.
	blob := append([]byte{0x28, 0xb5, 0x2f, 0xfd}, []byte(`{"v":1,"a":{}}`)...)
	out := Decode(blob)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestDecode_LegacyFlatMap(t *testing.T) {
	out, info := DecodeWithInfo([]byte(`{"health":20,"speed":0.25,"tamed":true,"color":"WHITE","marks":[1,2]}`))
	require.True(t, info.Legacy)

	assert.Equal(t, int64(20), out.Int("health", 0))
	assert.Equal(t, TypeInt, out["health"].Type())
	assert.InDelta(t, 0.25, out.Float("speed", 0), 1e-12)
	assert.True(t, out.Bool("tamed", false))
	assert.Equal(t, "WHITE", out.String("color", ""))
	assert.Equal(t, "[1,2]", out.String("marks", ""))
}

func TestDecode_BadEntriesAreSkippedNotFatal(t *testing.T) {
	out, info := DecodeWithInfo([]byte(`{"v":1,"a":{"good":{"t":"i","v":"3"},"bad":{"t":"i","v":"x"},"future":{"t":"q","v":"raw"}}}`))
	assert.Equal(t, 1, info.Skipped)
	assert.Equal(t, int64(3), out.Int("good", 0))
	assert.False(t, out.Has("bad"))
	assert.Equal(t, "raw", out.String("future", ""))
}

func TestEncode_RejectsInvalidName(t *testing.T) {
	b := New()
	b.SetInt(string([]byte{0xff}), 1)
	_, err := Encode(b, false)
	assert.Error(t, err)
}
