// Package index maintains exact-match and range indexes over records.
//
// An [Interactor] maps index values to the set of records holding them. It
// keeps two persistent maps in a store.Store:
//
//   - references: an ordered diskmap.SkipListMap from index value to the
//     header of that value's postings list (itself a skip list of record
//     references)
//   - indexValues: the inverse map from record reference to index value,
//     used to remove a record without knowing its old value
//
// Save, Delete, Rebuild and Clear are mutually exclusive per interactor, so
// a postings update and its inverse-map update appear together; queries share
// a read lock. Callers must serialize operations on the same record
// themselves.
//
// Records are read through a [RecordStore]. Rebuild extracts the indexed
// field from each record by name (struct field, `index` or `json` tag, or
// map key).
//
//	ix, err := index.New[string](s, codec.String{}, records, index.WithField("Title"))
//	err = ix.Save("quick brown fox", 0, 42)
//	refs, err := ix.FindAll("quick brown fox")
package index
