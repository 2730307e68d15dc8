// Package cache provides a bounded LRU cache.
//
// The MatrixHashMap uses it to remember resolved bucket heads so that hot
// buckets do not re-walk the hash trie on every call. Entries are evicted in
// least-recently-used order once the capacity is reached, and must be
// invalidated explicitly whenever the cached value goes stale.
package cache
