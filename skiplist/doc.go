// Package skiplist implements a skip list whose nodes live in a store.Store.
//
// A list is identified only by the position of its top head node. Operations
// that add or drop levels move that head; they report the head in effect
// afterwards through [Result], and the caller is responsible for persisting
// it wherever the list is rooted (a store.Header, a hash bucket, a trie slot).
// The List value itself holds no per-list state, so one List can serve any
// number of lists in the same store.
//
// Only level-0 nodes carry record positions. Index levels hold keys and
// down links.
//
// List methods do not lock. Mutations are written bottom-up so that a
// concurrent reader always observes a consistent level 0; callers serialize
// writers per list.
package skiplist
