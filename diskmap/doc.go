// Package diskmap provides persistent maps built from skip lists in a store.Store.
//
// Three variants implement [DiskMap]:
//
//   - [SkipListMap]: one ordered skip list; range queries are globally ordered.
//   - [HashMap]: 10^loadFactor pre-allocated buckets, each a skip list.
//   - [MatrixHashMap]: a lazily grown trie with one level per hash digit whose
//     leaves are skip lists, fronted by a bounded LRU of resolved heads.
//
// Each map is rooted at a store.Header. Mutations that move a skip-list head
// write the new head back to the owning header, bucket slot or trie slot
// before releasing the map's write lock, so a map reopened with [Open] after
// a restart always reaches every key.
//
// Keys are bucketed by the low-order decimal digits of a non-negative 63-bit
// xxhash of their encoded form; see [Bucket]. Range queries on the hash
// variants return the union of per-bucket ordered scans in unspecified order.
//
// Reads run optimistically against a version counter and fall back to a
// shared lock under write contention. Range, Keys and ContainsValue hold the
// shared lock for the whole scan; their callbacks must not mutate the map.
package diskmap
