package fdio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFifoPushPopOrder(t *testing.T) {
	var q fifo
	a, b, c := &Completion{}, &Completion{}, &Completion{}

	require.True(t, q.empty())
	q.pushTail(a)
	q.pushTail(b)
	q.pushTail(c)
	require.False(t, q.empty())

	assert.Same(t, a, q.peekHead())
	assert.Same(t, a, q.popHead())
	assert.Same(t, b, q.popHead())
	assert.Same(t, c, q.popHead())
	assert.Nil(t, q.popHead())
	assert.True(t, q.empty())
}

func TestFifoRemoveHeadMiddleTail(t *testing.T) {
	var q fifo
	a, b, c := &Completion{}, &Completion{}, &Completion{}
	q.pushTail(a)
	q.pushTail(b)
	q.pushTail(c)

	require.True(t, q.remove(b))
	assert.Same(t, a, q.popHead())
	assert.Same(t, c, q.popHead())
	assert.True(t, q.empty())

	q.pushTail(a)
	q.pushTail(b)
	require.True(t, q.remove(a))
	assert.Same(t, b, q.popHead())

	q.pushTail(a)
	require.True(t, q.remove(a))
	assert.True(t, q.empty())

	require.False(t, q.remove(a))
}

func TestFifoDrainResetsQueue(t *testing.T) {
	var q fifo
	a, b := &Completion{}, &Completion{}
	q.pushTail(a)
	q.pushTail(b)

	head := q.drain()
	assert.True(t, q.empty())

	var visited []*Completion
	drainList(head, func(c *Completion) {
		visited = append(visited, c)
	})
	assert.Equal(t, []*Completion{a, b}, visited)
}
