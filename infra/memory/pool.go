package memory

import "sync"

// Pool is a typed sync.Pool.
type Pool[T any] struct {
	p sync.Pool
}

func NewPool[T any](ctor func() *T) *Pool[T] {
	p := &Pool[T]{}
	p.p.New = func() any { return ctor() }
	return p
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	p.p.Put(v)
}

// BufferPool hands out empty byte slices. Buffers that grew past max are
// dropped on Put so one huge batch does not pin memory.
type BufferPool struct {
	pool *Pool[[]byte]
	max  int
}

func NewBufferPool(size, max int) *BufferPool {
	return &BufferPool{
		pool: NewPool(func() *[]byte {
			b := make([]byte, 0, size)
			return &b
		}),
		max: max,
	}
}

// Get returns a buffer with length zero.
func (p *BufferPool) Get() *[]byte {
	b := p.pool.Get()
	*b = (*b)[:0]
	return b
}

func (p *BufferPool) Put(b *[]byte) {
	if cap(*b) > p.max {
		return
	}
	p.pool.Put(b)
}
