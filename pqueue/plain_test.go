package pqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainHeap_PopOrder(t *testing.T) {
	h := NewPlainHeap(func(a, b int) bool { return a < b })

	h.Insert(5)
	h.Insert(1)
	h.Insert(3)

	var order []int
	for !h.Empty() {
		v, ok := h.PopMin()
		require.True(t, ok)
		order = append(order, v)
	}
	assert.Equal(t, []int{1, 3, 5}, order)
}

func TestPlainHeap_Empty(t *testing.T) {
	h := NewPlainHeap(func(a, b int) bool { return a < b })
	assert.True(t, h.Empty())
	_, ok := h.PeekMin()
	assert.False(t, ok)
}
