// Package arena provides an off-heap, offset-addressed memory allocator.
//
// The arena hands out 64-bit offsets instead of pointers, which makes it a
// direct backing for the in-memory Store: every persisted structure refers to
// other structures by offset only.
//
// # Features
//
//   - Off-heap allocation via anonymous mmap (no GC pressure)
//   - Power-of-two chunks; offset = chunkIndex<<chunkBits | chunkOffset
//   - Offset 0 is reserved and never returned, so it can serve as null
//   - Optional memory accounting through a MemoryAcquirer
//   - Chunk dump/load for snapshots
//
// # Safety
//
// All methods return errors instead of panicking. An allocation never spans
// two chunks, so ReadAt/WriteAt ranges are validated against a single chunk.
package arena
