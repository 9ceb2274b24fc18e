package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPool_GetReturnsEmptyBuffer(t *testing.T) {
	p := NewBufferPool(64, 1024)

	buf := p.Get()
	buf.WriteString("payload")
	p.Put(buf)

	again := p.Get()
	assert.Equal(t, 0, again.Len())
}

func TestBufferPool_DropsOversizedBuffers(t *testing.T) {
	p := NewBufferPool(8, 16)

	buf := p.Get()
	buf.Write(make([]byte, 64))
	assert.NotPanics(t, func() { p.Put(buf) })
	assert.NotPanics(t, func() { p.Put(nil) })
}
