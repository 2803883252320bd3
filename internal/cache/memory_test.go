package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := NewMemoryBackend().WithClock(clock.Now)

	_, err := b.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, b.Set(ctx, "forever", []byte("x"), 0))
	require.NoError(t, b.Set(ctx, "short", []byte("y"), time.Second))
	assert.Equal(t, 2, b.Len())

	clock.Advance(time.Second)
	assert.Equal(t, 1, b.Len())
	_, err = b.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrMiss)

	ok, err := b.SetNX(ctx, "forever", []byte("z"), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.CompareAndDelete(ctx, "forever", []byte("wrong"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.CompareAndDelete(ctx, "forever", []byte("x"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Delete(ctx, "absent"))
	assert.NoError(t, b.Ping(ctx))
}

func TestMemoryBackend_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	v := []byte("abc")
	require.NoError(t, b.Set(ctx, "k", v, 0))
	v[0] = 'z'

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}
