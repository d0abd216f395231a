package attr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedAccessors(t *testing.T) {
	b := New()
	b.SetInt("age", -24000)
	b.SetFloat("speed", 0.225)
	b.SetBool("tamed", true)
	b.SetString("color", "BLACK")

	assert.Equal(t, int64(-24000), b.Int("age", 0))
	assert.InDelta(t, -24000.0, b.Float("age", 0), 0)
	assert.Equal(t, int64(0), b.Int("speed", 7), "float truncates")
	assert.True(t, b.Bool("tamed", false))
	assert.Equal(t, "BLACK", b.String("color", ""))

	// Wrong type and missing names fall back to the default.
	assert.Equal(t, "x", b.String("age", "x"))
	assert.False(t, b.Bool("color", false))
	assert.Equal(t, int64(9), b.Int("missing", 9))
}

func TestValueEqual_NaN(t *testing.T) {
	assert.True(t, Float(math.NaN()).Equal(Float(math.NaN())))
	assert.False(t, Int(1).Equal(Float(1)))
}

func TestCloneIsIndependent(t *testing.T) {
	b := New()
	b.SetInt("a", 1)
	c := b.Clone()
	c.SetInt("a", 2)
	assert.Equal(t, int64(1), b.Int("a", 0))
	assert.Equal(t, []string{"a"}, c.Keys())
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(uint8(3))
	require.NoError(t, err)
	assert.Equal(t, TypeInt, v.Type())

	_, err = FromAny(uint64(math.MaxUint64))
	assert.Error(t, err)

	_, err = FromAny([]int{1})
	assert.Error(t, err)
}

type horseTraits struct {
	MaxHealth float64 `attr:"max_health"`
	Speed     float64 `attr:"movement_speed"`
	Tamed     bool    `attr:"tamed"`
	Color     string  `attr:"color"`
	Age       int     `attr:"age"`
}

func TestDecodeIntoAndOverlay(t *testing.T) {
	b := New()
	b.SetInt("max_health", 30) // int widens into a float field
	b.SetFloat("movement_speed", 0.3)
	b.SetBool("tamed", true)
	b.SetString("color", "GRAY")
	b.SetString("plugin:extra", "kept")

	var tr horseTraits
	require.NoError(t, DecodeInto(b, &tr))
	assert.InDelta(t, 30.0, tr.MaxHealth, 0)
	assert.Equal(t, "GRAY", tr.Color)

	tr.MaxHealth = 24
	tr.Age = -100
	require.NoError(t, b.Overlay(tr))

	assert.InDelta(t, 24.0, b.Float("max_health", 0), 0)
	assert.Equal(t, int64(-100), b.Int("age", 0))
	assert.Equal(t, "kept", b.String("plugin:extra", ""))
}
