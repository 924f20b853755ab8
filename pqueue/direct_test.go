package pqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	key int
	pri int
}

func keyOf(i *item) uint64   { return uint64(i.key) }
func lessItem(a, b *item) bool { return a.pri < b.pri }

func TestDirectHeap_InsertPopOrder(t *testing.T) {
	h := NewDirectHeap(keyOf, lessItem)

	h.Insert(&item{key: 1, pri: 30})
	h.Insert(&item{key: 2, pri: 10})
	h.Insert(&item{key: 3, pri: 20})

	min, ok := h.PeekMin()
	require.True(t, ok)
	assert.Equal(t, 2, min.key)

	var order []int
	for !h.Empty() {
		v, ok := h.PopMin()
		require.True(t, ok)
		order = append(order, v.key)
	}
	assert.Equal(t, []int{2, 3, 1}, order)
}

func TestDirectHeap_UpdateRepositions(t *testing.T) {
	h := NewDirectHeap(keyOf, lessItem)

	a := &item{key: 1, pri: 10}
	b := &item{key: 2, pri: 20}
	h.Insert(a)
	h.Insert(b)

	// Lower b's priority value below a's: b should now be first.
	b.pri = 5
	h.Update(b)

	min, ok := h.PeekMin()
	require.True(t, ok)
	assert.Equal(t, 2, min.key)
	assert.True(t, h.Contains(1))
	assert.True(t, h.Contains(2))
}

func TestDirectHeap_Remove(t *testing.T) {
	h := NewDirectHeap(keyOf, lessItem)
	h.Insert(&item{key: 1, pri: 10})
	h.Insert(&item{key: 2, pri: 5})

	h.Remove(2)
	assert.False(t, h.Contains(2))

	min, ok := h.PeekMin()
	require.True(t, ok)
	assert.Equal(t, 1, min.key)
}

func TestDirectHeap_EmptyPeekAndPop(t *testing.T) {
	h := NewDirectHeap(keyOf, lessItem)
	_, ok := h.PeekMin()
	assert.False(t, ok)
	_, ok = h.PopMin()
	assert.False(t, ok)
}
