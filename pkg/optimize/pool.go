package optimize

import (
	"bytes"
	"sync"
)

// BufferPool recycles encode buffers on the hot send paths.
type BufferPool struct {
	pool    sync.Pool
	maxSize int
}

// NewBufferPool creates a pool whose buffers start at initial bytes. Buffers
// that grew beyond maxSize are dropped instead of being returned.
func NewBufferPool(initial, maxSize int) *BufferPool {
	return &BufferPool{
		maxSize: maxSize,
		pool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, initial))
			},
		},
	}
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || (p.maxSize > 0 && buf.Cap() > p.maxSize) {
		return
	}
	p.pool.Put(buf)
}
