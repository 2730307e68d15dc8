// Package hash provides the hashing primitives used across the engine.
//
// # CRC32-Castagnoli (CRC32C)
//
// Used for the File store superblock checksum:
//
//	checksum := hash.CRC32C(data)
//
// # 64-bit hashing
//
// Sum64 and Sum64String hash arbitrary bytes with xxhash. Keys are hashed
// through their binary encoding, so the bucket a key lands in is stable across
// processes and platforms.
//
// Mix64 is the splitmix64 finalizer. It scrambles an already-hashed or
// sequential 64-bit value and is used to derive hyperplane seeds, token signs
// and skip-list level coin flips.
package hash
