package skiplist

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/diskindex/store"
)

// headKeyLen marks a head sentinel, which has no key.
const headKeyLen = ^uint32(0)

// maxKeyLen bounds encoded keys.
const maxKeyLen = store.MaxBlobSize

// node is the persisted form of one tower level.
//
// Layout (little-endian):
//
//	Offset    Size    Field
//	0         4       KeyLen (0xFFFFFFFF = head sentinel)
//	4         KeyLen  Key
//	4+K       8       RecordPosition (level 0 only)
//	12+K      8       Next
//	20+K      8       Down
//	28+K      1       Level
type node struct {
	head   bool
	key    []byte
	record store.Position
	next   store.Position
	down   store.Position
	level  uint8
}

func (n node) size() int {
	return 4 + len(n.key) + 25
}

// recordOffset returns the offset of RecordPosition relative to the node.
func (n node) recordOffset() store.Position {
	return store.Position(4 + len(n.key))
}

// nextOffset returns the offset of Next relative to the node.
func (n node) nextOffset() store.Position {
	return store.Position(12 + len(n.key))
}

func encodeNode(dst []byte, n node) []byte {
	if n.head {
		dst = append(dst, 0xFF, 0xFF, 0xFF, 0xFF)
	} else {
		dst = store.AppendBlob(dst, n.key)
	}
	dst = store.AppendPosition(dst, n.record)
	dst = store.AppendPosition(dst, n.next)
	dst = store.AppendPosition(dst, n.down)
	return append(dst, n.level)
}

func decodeNode(r *store.Reader) (node, error) {
	at := r.Position()

	keyLen, err := r.Uint32()
	if err != nil {
		return node{}, err
	}

	var n node
	switch {
	case keyLen == headKeyLen:
		n.head = true
	case keyLen > maxKeyLen:
		return node{}, &store.StorageError{Op: "read node", Position: at, Err: fmt.Errorf("%w: key length %d", store.ErrCorrupt, keyLen)}
	default:
		if n.key, err = r.Bytes(int(keyLen)); err != nil {
			return node{}, err
		}
	}

	// One read for the fixed tail.
	tail, err := r.Bytes(25)
	if err != nil {
		return node{}, err
	}
	n.record = position(tail[0:])
	n.next = position(tail[8:])
	n.down = position(tail[16:])
	n.level = tail[24]
	return n, nil
}

func position(b []byte) store.Position {
	return store.Position(binary.LittleEndian.Uint64(b)) //nolint:gosec // bit reinterpretation
}
