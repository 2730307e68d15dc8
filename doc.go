// Package diskindex builds persistent exact and semantic indexes over records.
//
// An index is described by an [IndexDescriptor] (usually loaded from YAML
// with [LoadDescriptors]) and lives in a store.Store. Exact indexes map a
// field value to the records holding it and answer range queries; vector
// indexes additionally rank records by similarity to a text or vector query.
//
//	s, _ := store.OpenFile("./index.dat")
//	ix, _ := diskindex.Create(s, diskindex.IndexDescriptor{Name: "title", Type: "string"}, records)
//	_ = ix.Save(ctx, "Skip lists on disk", 0, 42)
//	refs, _ := ix.FindAll(ctx, "Skip lists on disk")
//	_ = s.Commit()
//
// Reopen a persisted index with [Open] and the position returned by Root.
//
// # Building blocks
//
//   - store: the Store contract and its Memory, File, Mapped and Badger backends
//   - skiplist: the disk-resident skip list every map is built from
//   - diskmap: SkipListMap, HashMap and MatrixHashMap
//   - index: the exact/range interactor
//   - index/vector: embedding, LSH and the semantic interactor
//
// Every failure returned from this package is translated: missing records
// match [ErrNotFound], and typed failures surface as [*ErrDimensionMismatch],
// [*ErrFieldAccess] or [*ErrStorage] with the original error still reachable
// through errors.Unwrap.
package diskindex
