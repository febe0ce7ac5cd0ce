package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type named string

func (n named) String() string { return string(n) }

func TestNextPow2(t *testing.T) {
	t.Parallel()

	cases := map[uint64]uint64{0: 1, 1: 1, 2: 2, 3: 4, 5: 8, 1000: 1024, 1 << 40: 1 << 40, 1<<63 + 1: 1 << 63}
	for in, want := range cases {
		assert.Equal(t, want, NextPow2(in), "NextPow2(%d)", in)
	}
}

func TestShardCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, ShardCount(1))
	assert.Equal(t, 4, ShardCount(3))
	assert.Equal(t, 256, ShardCount(10_000))
	assert.True(t, IsPowerOfTwo(uint64(ShardCount(0))))
}

func TestHash64NamedStringMatchesString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Hash64("abc"), Hash64(named("abc")))
	assert.NotEqual(t, Hash64("abc"), Hash64("abd"))
	assert.Equal(t, Hash64(42), Hash64(42))
	assert.Panics(t, func() { Hash64(struct{ a int }{1}) })
}

func TestShardIndexInRange(t *testing.T) {
	t.Parallel()

	for _, h := range []uint64{0, 1, 17, 1<<64 - 1} {
		i := ShardIndex(h, 16)
		assert.GreaterOrEqual(t, i, 0)
		assert.Less(t, i, 16)
	}
	assert.Equal(t, 0, ShardIndex(12345, 1))
}
