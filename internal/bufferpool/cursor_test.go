package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorDropSize(t *testing.T) {
	pool := NewPool(64, 1)
	c, err := pool.Allocate(10)
	require.NoError(t, err)

	for n := 0; n <= 12; n++ {
		got := c.Drop(n).Size()
		want := c.Size() - n
		if want < 0 {
			want = 0
		}
		assert.Equal(t, want, got, "Drop(%d)", n)
	}
}

func TestCursorTakeSize(t *testing.T) {
	pool := NewPool(64, 1)
	c, err := pool.Allocate(10)
	require.NoError(t, err)

	for n := 0; n <= 12; n++ {
		got := c.Take(n).Size()
		want := n
		if want > c.Size() {
			want = c.Size()
		}
		assert.Equal(t, want, got, "Take(%d)", n)
	}
}

func TestCursorWriteThenRead(t *testing.T) {
	pool := NewPool(64, 1)
	c, err := pool.Allocate(16)
	require.NoError(t, err)

	payload := []byte("hello world12345")
	after := c.Write(payload)
	assert.Equal(t, 0, after.Size())

	out := make([]byte, len(payload))
	c.Read(out)
	assert.Equal(t, payload, out)
}

func TestCursorChainSpansBuffers(t *testing.T) {
	pool := NewPool(8, 2)
	first, err := pool.Allocate(8)
	require.NoError(t, err)
	second, err := pool.Allocate(8)
	require.NoError(t, err)

	chained := NewChainedCursor(first.desc, first.cur, &second)
	assert.Equal(t, 16, chained.Size())

	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i)
	}
	written := chained.Write(payload)
	assert.True(t, written.Empty())

	out := make([]byte, 16)
	chained.Read(out)
	assert.Equal(t, payload, out)
}

func TestCursorInPlaceRequiresContiguity(t *testing.T) {
	pool := NewPool(4, 2)
	first, err := pool.Allocate(4)
	require.NoError(t, err)
	second, err := pool.Allocate(4)
	require.NoError(t, err)

	chained := NewChainedCursor(first.desc, first.cur, &second)
	assert.True(t, chained.CanInPlace(4))
	assert.False(t, chained.CanInPlace(5))

	buf, rest := chained.InPlace(4)
	assert.Len(t, buf, 4)
	assert.Equal(t, 4, rest.Size())
}

func TestCursorReleaseReturnsManagedBufferOnce(t *testing.T) {
	pool := NewPool(16, 1)
	require.Equal(t, 1, pool.Available())

	c, err := pool.Allocate(16)
	require.NoError(t, err)
	require.Equal(t, 0, pool.Available())

	c.Release()
	assert.Equal(t, 1, pool.Available())
}

func TestCursorRetainDefersRelease(t *testing.T) {
	pool := NewPool(16, 1)
	c, err := pool.Allocate(16)
	require.NoError(t, err)

	retained := c.Retain()
	c.Release()
	assert.Equal(t, 0, pool.Available(), "buffer must stay out while retained reference exists")

	retained.Release()
	assert.Equal(t, 1, pool.Available())
}

func TestCursorReadWithUsesInPlaceWhenPossible(t *testing.T) {
	pool := NewPool(16, 1)
	c, err := pool.Allocate(16)
	require.NoError(t, err)

	copy(c.cur, []byte("0123456789abcdef"))

	var seen []byte
	rest := c.ReadWith(4, func(b []byte) {
		seen = append([]byte(nil), b...)
	})
	assert.Equal(t, []byte("0123"), seen)
	assert.Equal(t, 12, rest.Size())
}
