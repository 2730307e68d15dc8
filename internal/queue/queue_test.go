package queue

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopK(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	all := make([]Item, 200)
	for i := range all {
		all[i] = Item{Ref: uint64(i + 1), Score: rng.Float32()}
	}

	top := NewTopK(10)
	for _, item := range all {
		top.Offer(item)
	}
	assert.Equal(t, 10, top.Len())
	got := top.Drain()

	slices.SortFunc(all, func(a, b Item) int {
		if better(a, b) {
			return -1
		}
		return 1
	})
	assert.Equal(t, all[:10], got)
	assert.Zero(t, top.Len())
}

func TestTopKFewerThanK(t *testing.T) {
	top := NewTopK(5)
	assert.True(t, top.Offer(Item{Ref: 1, Score: 0.2}))
	assert.True(t, top.Offer(Item{Ref: 2, Score: 0.9}))
	assert.Equal(t, []Item{{Ref: 2, Score: 0.9}, {Ref: 1, Score: 0.2}}, top.Drain())
}

func TestTopKTies(t *testing.T) {
	items := []Item{{Ref: 5, Score: 1}, {Ref: 2, Score: 1}, {Ref: 9, Score: 1}, {Ref: 1, Score: 0.5}}

	forward := NewTopK(2)
	for _, item := range items {
		forward.Offer(item)
	}
	backward := NewTopK(2)
	for i := len(items) - 1; i >= 0; i-- {
		backward.Offer(items[i])
	}

	want := []Item{{Ref: 2, Score: 1}, {Ref: 5, Score: 1}}
	assert.Equal(t, want, forward.Drain())
	assert.Equal(t, want, backward.Drain())
}

func TestTopKZero(t *testing.T) {
	for _, k := range []int{0, -3} {
		top := NewTopK(k)
		assert.False(t, top.Offer(Item{Ref: 1, Score: 1}))
		assert.Empty(t, top.Drain())
	}
}
