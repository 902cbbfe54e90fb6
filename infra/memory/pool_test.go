package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolBuildsWithCtor(t *testing.T) {
	calls := 0
	p := NewPool(func() *int {
		calls++
		v := 7
		return &v
	})
	v := p.Get()
	assert.Equal(t, 7, *v)
	assert.GreaterOrEqual(t, calls, 1)
	p.Put(v)
}

func TestBufferPoolResetsLength(t *testing.T) {
	p := NewBufferPool(16, 64)

	b := p.Get()
	assert.Zero(t, len(*b))
	assert.GreaterOrEqual(t, cap(*b), 16)

	*b = append(*b, "hello"...)
	p.Put(b)

	again := p.Get()
	assert.Zero(t, len(*again), "reused buffers come back empty")
}

func TestBufferPoolDropsOversized(t *testing.T) {
	p := NewBufferPool(4, 8)
	b := p.Get()
	*b = make([]byte, 0, 128)
	p.Put(b)

	got := p.Get()
	assert.LessOrEqual(t, cap(*got), 8)
}
