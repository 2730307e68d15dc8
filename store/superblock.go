package store

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/diskindex/internal/hash"
)

const (
	// SuperblockMagic identifies store images (ASCII: "DXS1").
	SuperblockMagic uint32 = 0x44585331
	// SuperblockVersion is the current image format version.
	SuperblockVersion uint32 = 1
	// SuperblockSize is the space reserved at the start of an image.
	// The first allocation starts right after it.
	SuperblockSize = 64
)

// superblock is the fixed image header.
//
// Layout (little-endian):
//
//	Offset  Size  Field
//	0       4     Magic
//	4       4     Version
//	8       8     Watermark (next free position)
//	16      8     Commits
//	24      4     CRC32C of bytes 0..23
//	28      36    Reserved
type superblock struct {
	Watermark int64
	Commits   uint64
}

func (sb superblock) encode() []byte {
	buf := make([]byte, SuperblockSize)
	binary.LittleEndian.PutUint32(buf[0:], SuperblockMagic)
	binary.LittleEndian.PutUint32(buf[4:], SuperblockVersion)
	binary.LittleEndian.PutUint64(buf[8:], uint64(sb.Watermark)) //nolint:gosec // watermark >= SuperblockSize
	binary.LittleEndian.PutUint64(buf[16:], sb.Commits)
	binary.LittleEndian.PutUint32(buf[24:], hash.CRC32C(buf[:24]))
	return buf
}

func decodeSuperblock(buf []byte) (superblock, error) {
	if len(buf) < SuperblockSize {
		return superblock{}, fmt.Errorf("%w: short superblock (%d bytes)", ErrCorrupt, len(buf))
	}
	if magic := binary.LittleEndian.Uint32(buf[0:]); magic != SuperblockMagic {
		return superblock{}, fmt.Errorf("%w: bad magic 0x%08x", ErrCorrupt, magic)
	}
	if v := binary.LittleEndian.Uint32(buf[4:]); v != SuperblockVersion {
		return superblock{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	if sum := binary.LittleEndian.Uint32(buf[24:]); sum != hash.CRC32C(buf[:24]) {
		return superblock{}, fmt.Errorf("%w: superblock checksum mismatch", ErrCorrupt)
	}

	sb := superblock{
		Watermark: int64(binary.LittleEndian.Uint64(buf[8:])), //nolint:gosec // validated below
		Commits:   binary.LittleEndian.Uint64(buf[16:]),
	}
	if sb.Watermark < SuperblockSize {
		return superblock{}, fmt.Errorf("%w: watermark %d", ErrCorrupt, sb.Watermark)
	}
	return sb, nil
}

// alignUp rounds n up to a multiple of 8.
func alignUp(n int64) int64 {
	return (n + 7) &^ 7
}
