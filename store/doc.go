// Package store provides the byte-addressable backing media for disk-resident maps.
//
// Every persisted structure refers to other structures by [Position], a
// 64-bit offset into a [Store]. Positions are handed out by Allocate and are
// never reused by this package; 0 and negative values denote "absent".
//
// # Backends
//
//   - [Memory]: chunked off-heap arena, optionally bounded by a memory budget
//   - [File]: single image file with a checksummed superblock, pread/pwrite I/O
//   - [Mapped]: read-only memory-mapped view of a File image
//   - [Badger]: paged store on top of BadgerDB
//
// A Memory store can be serialized with [WriteSnapshot] (zstd or lz4) and
// restored with [ReadSnapshot]; restored stores keep every Position valid.
//
// # Records
//
// Structures are encoded with [Encoder] functions and decoded from a
// sequential [Reader]:
//
//	pos, err := store.Append(s, hdr, store.EncodeHeader)
//	hdr, err := store.Read(s, pos, store.DecodeHeader)
//
// All backend failures are reported as *[StorageError].
package store
