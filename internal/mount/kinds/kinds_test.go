package kinds

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mount/attr"
)

func TestCatalogCoversEveryKind(t *testing.T) {
	for _, k := range mount.Kinds() {
		s, ok := Lookup(k)
		require.True(t, ok, k)
		assert.True(t, s.Rideable, k)
		assert.Positive(t, s.InventorySize, k)
	}
	assert.Len(t, All(), len(mount.Kinds()))
	assert.False(t, Supported("COW"))

	s, _ := Lookup(mount.KindStrider)
	assert.Equal(t, SpawnLava, s.Spawn)
}

func TestNormalize(t *testing.T) {
	b := attr.New()
	b.SetFloat(AttrMaxHealth, math.NaN())
	b.SetFloat(AttrHealth, 99)
	b.SetFloat(AttrSpeed, -1)
	b.SetFloat(AttrStrength, 9)
	b.SetString("plugin:mood", "grumpy")

	assert.True(t, Normalize(mount.KindLlama, b))
	assert.InDelta(t, 20.0, b.Float(AttrMaxHealth, 0), 0)
	assert.InDelta(t, 20.0, b.Float(AttrHealth, 0), 0)
	assert.InDelta(t, 0.0, b.Float(AttrSpeed, 1), 0)
	assert.Equal(t, int64(5), b.Int(AttrStrength, 0))
	assert.Equal(t, attr.TypeInt, b["strength"].Type())
	assert.Equal(t, "grumpy", b.String("plugin:mood", ""))

	assert.False(t, Normalize(mount.KindLlama, b), "second pass is a no-op")
}

func TestNormalize_DeadMountRevives(t *testing.T) {
	b := attr.New()
	b.SetFloat(AttrHealth, 0)
	Normalize(mount.KindHorse, b)
	assert.InDelta(t, 1.0, b.Float(AttrHealth, 0), 0)
}

func TestWildAndTraits(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, k := range mount.Kinds() {
		b := Wild(k, rng)
		assert.False(t, Normalize(k, b), "wild %s attributes are already legal", k)

		tr, err := TraitsOf(b)
		require.NoError(t, err)
		assert.Positive(t, tr.MaxHealth)
		assert.Equal(t, tr.MaxHealth, tr.Health)
		assert.False(t, tr.Tamed)
		assert.False(t, Baby(b))
	}
}
