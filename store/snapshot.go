package store

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/diskindex/internal/conv"
	"github.com/hupe1980/diskindex/internal/hash"
)

// Compression selects the block compression of a snapshot.
type Compression uint8

const (
	// CompressionNone stores chunks verbatim.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = 1
	// CompressionZstd uses zstd (better ratio).
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

const (
	snapshotMagic   uint32 = 0x44585353 // "DXSS"
	snapshotVersion uint32 = 1

	// Layout: Magic u32, Version u32, Compression u8, pad [3], ChunkSize u32.
	snapshotHeaderSize = 16
	// Layout: Index u32, RawSize u32, StoredSize u32 (0 = raw), CRC32C(raw) u32.
	// A chunk header with index endOfChunks terminates the stream.
	chunkHeaderSize = 16
	endOfChunks     = ^uint32(0)
)

// WriteSnapshot serializes every allocated byte of m to w.
func WriteSnapshot(w io.Writer, m *Memory, c Compression) error {
	hdr := make([]byte, snapshotHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:], snapshotMagic)
	binary.LittleEndian.PutUint32(hdr[4:], snapshotVersion)
	hdr[8] = byte(c)
	chunkSize, err := conv.IntToUint32(m.arena.ChunkSize())
	if err != nil {
		return wrap("snapshot", Null, err)
	}
	binary.LittleEndian.PutUint32(hdr[12:], chunkSize)
	if _, err := w.Write(hdr); err != nil {
		return wrap("snapshot", Null, err)
	}

	var enc *zstd.Encoder
	if c == CompressionZstd {
		enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return wrap("snapshot", Null, err)
		}
		defer enc.Close()
	}

	err = m.arena.Dump(func(index uint32, used []byte) error {
		stored, err := compressChunk(c, enc, used)
		if err != nil {
			return err
		}

		ch := make([]byte, chunkHeaderSize)
		binary.LittleEndian.PutUint32(ch[0:], index)
		binary.LittleEndian.PutUint32(ch[4:], uint32(len(used))) //nolint:gosec // bounded by chunk size
		if stored == nil {
			stored = used
		} else {
			binary.LittleEndian.PutUint32(ch[8:], uint32(len(stored))) //nolint:gosec // bounded by chunk size
		}
		binary.LittleEndian.PutUint32(ch[12:], hash.CRC32C(used))

		if _, err := w.Write(ch); err != nil {
			return err
		}
		_, err = w.Write(stored)
		return err
	})
	if err != nil {
		return wrap("snapshot", Null, translateArenaErr(err))
	}

	end := make([]byte, chunkHeaderSize)
	binary.LittleEndian.PutUint32(end[0:], endOfChunks)
	_, err = w.Write(end)
	return wrap("snapshot", Null, err)
}

// compressChunk returns nil when the chunk should be stored raw.
func compressChunk(c Compression, enc *zstd.Encoder, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var out []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		out = buf[:n]
	case CompressionZstd:
		out = enc.EncodeAll(data, nil)
	default:
		return nil, nil
	}

	// Incompressible blocks are cheaper to keep raw.
	if len(out) == 0 || len(out) >= len(data) {
		return nil, nil
	}
	return out, nil
}

// ReadSnapshot restores a Memory store written by WriteSnapshot.
// The chunk size is taken from the snapshot; a WithChunkSize option is ignored.
func ReadSnapshot(r io.Reader, optFns ...MemoryOption) (*Memory, error) {
	hdr := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, wrap("restore", Null, fmt.Errorf("%w: %w", ErrCorrupt, err))
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:]); magic != snapshotMagic {
		return nil, wrap("restore", Null, fmt.Errorf("%w: bad snapshot magic 0x%08x", ErrCorrupt, magic))
	}
	if v := binary.LittleEndian.Uint32(hdr[4:]); v != snapshotVersion {
		return nil, wrap("restore", Null, fmt.Errorf("%w: unsupported snapshot version %d", ErrCorrupt, v))
	}
	c := Compression(hdr[8])
	chunkSize, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(hdr[12:]))
	if err != nil {
		return nil, wrap("restore", Null, err)
	}

	m, err := NewMemory(append(optFns, WithChunkSize(chunkSize))...)
	if err != nil {
		return nil, err
	}

	var dec *zstd.Decoder
	if c == CompressionZstd {
		dec, err = zstd.NewReader(nil)
		if err != nil {
			_ = m.Close()
			return nil, wrap("restore", Null, err)
		}
		defer dec.Close()
	}

	for {
		done, err := readChunk(r, m, c, dec, chunkSize)
		if err != nil {
			_ = m.Close()
			return nil, wrap("restore", Null, translateArenaErr(err))
		}
		if done {
			return m, nil
		}
	}
}

func readChunk(r io.Reader, m *Memory, c Compression, dec *zstd.Decoder, chunkSize int) (bool, error) {
	ch := make([]byte, chunkHeaderSize)
	if _, err := io.ReadFull(r, ch); err != nil {
		return false, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	index := binary.LittleEndian.Uint32(ch[0:])
	if index == endOfChunks {
		return true, nil
	}
	rawSize := int(binary.LittleEndian.Uint32(ch[4:]))
	storedSize := int(binary.LittleEndian.Uint32(ch[8:]))
	sum := binary.LittleEndian.Uint32(ch[12:])

	if rawSize > chunkSize || storedSize > chunkSize*2 {
		return false, fmt.Errorf("%w: chunk %d sizes %d/%d", ErrCorrupt, index, rawSize, storedSize)
	}

	var raw []byte
	if storedSize == 0 {
		raw = make([]byte, rawSize)
		if _, err := io.ReadFull(r, raw); err != nil {
			return false, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	} else {
		stored := make([]byte, storedSize)
		if _, err := io.ReadFull(r, stored); err != nil {
			return false, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		var err error
		switch c {
		case CompressionLZ4:
			raw = make([]byte, rawSize)
			var n int
			n, err = lz4.UncompressBlock(stored, raw)
			raw = raw[:n]
		case CompressionZstd:
			raw, err = dec.DecodeAll(stored, make([]byte, 0, rawSize))
		default:
			err = fmt.Errorf("unknown compression %s", c)
		}
		if err != nil {
			return false, fmt.Errorf("%w: chunk %d: %w", ErrCorrupt, index, err)
		}
		if len(raw) != rawSize {
			return false, fmt.Errorf("%w: chunk %d decoded to %d bytes, want %d", ErrCorrupt, index, len(raw), rawSize)
		}
	}

	if hash.CRC32C(raw) != sum {
		return false, fmt.Errorf("%w: chunk %d checksum mismatch", ErrCorrupt, index)
	}
	return false, m.arena.Load(index, raw)
}
