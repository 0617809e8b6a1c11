package bplus

import (
	"encoding/binary"
	"fmt"

	"GSQLCore/storage_engine/page"
	"GSQLCore/types"
)

/*
SerializeNode writes a Node into a page buffer of the store's page size.

Layout:

	Header (32 bytes):
	  common page header (16 bytes): LSN, type tag (leaf/internal), checksum
	  numKeys      uint16 (2 bytes)
	  next         int64  (8 bytes): leaf-only, InvalidPageID if none
	  reserved            (6 bytes)

	Body:
	  numKeys × [ keyLen uint16 | key []byte ]
	  internal: (numKeys+1) × [ childID int64 ]
	  leaf:      numKeys    × [ valLen uint16 | val []byte ]

The LSN already present in the buffer is kept; the checksum is stamped by the
buffer pool on write-back.
*/

const (
	numKeysOffset  = types.PageHeaderSize
	nextOffset     = numKeysOffset + 2
	nodeHeaderSize = 32

	keyLenBytes   = 2
	valLenBytes   = 2
	childPtrBytes = 8
)

func SerializeNode(node *Node, data []byte) error {
	if len(data) < nodeHeaderSize {
		return fmt.Errorf("serializeNode: buffer of %d bytes is smaller than a node header", len(data))
	}
	if !node.isLeaf && len(node.children) != len(node.keys)+1 {
		return fmt.Errorf("serializeNode: internal node %d has %d keys and %d children",
			node.pageID, len(node.keys), len(node.children))
	}
	if node.isLeaf && len(node.values) != len(node.keys) {
		return fmt.Errorf("serializeNode: leaf %d has %d keys and %d values",
			node.pageID, len(node.keys), len(node.values))
	}

	// ── Header ────────────────────────────────────────────────────────────────
	lsn := page.LSNOf(data)
	clear(data)
	page.SetLSN(data, lsn)
	if node.isLeaf {
		page.SetType(data, types.PageTypeBTreeLeaf)
	} else {
		page.SetType(data, types.PageTypeBTreeInternal)
	}
	binary.BigEndian.PutUint16(data[numKeysOffset:], uint16(len(node.keys)))
	binary.BigEndian.PutUint64(data[nextOffset:], uint64(node.next))
	offset := nodeHeaderSize

	// ── Keys ──────────────────────────────────────────────────────────────────
	for _, key := range node.keys {
		if offset+keyLenBytes+len(key) > len(data) {
			return fmt.Errorf("serializeNode: page overflow while writing keys of node %d", node.pageID)
		}
		binary.BigEndian.PutUint16(data[offset:], uint16(len(key)))
		offset += keyLenBytes
		offset += copy(data[offset:], key)
	}

	// ── Node-specific data ────────────────────────────────────────────────────
	if node.isLeaf {
		for _, val := range node.values {
			if offset+valLenBytes+len(val) > len(data) {
				return fmt.Errorf("serializeNode: page overflow while writing values of node %d", node.pageID)
			}
			binary.BigEndian.PutUint16(data[offset:], uint16(len(val)))
			offset += valLenBytes
			offset += copy(data[offset:], val)
		}
		return nil
	}

	for _, child := range node.children {
		if offset+childPtrBytes > len(data) {
			return fmt.Errorf("serializeNode: page overflow while writing children of node %d", node.pageID)
		}
		binary.BigEndian.PutUint64(data[offset:], uint64(child))
		offset += childPtrBytes
	}
	return nil
}

// DeserializeNode decodes a node page. Anything that could not have been
// written by SerializeNode is reported as ErrIndexCorruption: a wrong type
// tag, lengths running past the page, child pointers into page 0, or keys out
// of order.
func DeserializeNode(pageID int64, data []byte, cmp func(a, b []byte) int) (*Node, error) {
	corrupt := func(format string, args ...any) error {
		return fmt.Errorf("%w: node %d: %s", types.ErrIndexCorruption, pageID, fmt.Sprintf(format, args...))
	}
	if len(data) < nodeHeaderSize {
		return nil, corrupt("page too small")
	}

	node := &Node{pageID: pageID}
	switch page.TypeOf(data) {
	case types.PageTypeBTreeLeaf:
		node.isLeaf = true
	case types.PageTypeBTreeInternal:
	default:
		return nil, corrupt("unexpected page type %s", page.TypeOf(data))
	}

	numKeys := int(binary.BigEndian.Uint16(data[numKeysOffset:]))
	if numKeys > (len(data)-nodeHeaderSize)/keyLenBytes {
		return nil, corrupt("key count %d out of range", numKeys)
	}
	node.next = int64(binary.BigEndian.Uint64(data[nextOffset:]))
	if node.next < 0 || (!node.isLeaf && node.next != types.InvalidPageID) {
		return nil, corrupt("bad sibling pointer %d", node.next)
	}
	offset := nodeHeaderSize

	readBytes := func(what string) ([]byte, error) {
		if offset+2 > len(data) {
			return nil, corrupt("%s length past end of page", what)
		}
		n := int(binary.BigEndian.Uint16(data[offset:]))
		offset += 2
		if offset+n > len(data) {
			return nil, corrupt("%s of %d bytes past end of page", what, n)
		}
		out := make([]byte, n)
		copy(out, data[offset:offset+n])
		offset += n
		return out, nil
	}

	node.keys = make([][]byte, 0, numKeys)
	for i := 0; i < numKeys; i++ {
		key, err := readBytes("key")
		if err != nil {
			return nil, err
		}
		if i > 0 && cmp(node.keys[i-1], key) >= 0 {
			return nil, corrupt("keys out of order at position %d", i)
		}
		node.keys = append(node.keys, key)
	}

	if node.isLeaf {
		node.values = make([][]byte, 0, numKeys)
		for i := 0; i < numKeys; i++ {
			val, err := readBytes("value")
			if err != nil {
				return nil, err
			}
			node.values = append(node.values, val)
		}
		return node, nil
	}

	if offset+(numKeys+1)*childPtrBytes > len(data) {
		return nil, corrupt("children past end of page")
	}
	node.children = make([]int64, numKeys+1)
	for i := range node.children {
		child := int64(binary.BigEndian.Uint64(data[offset:]))
		if child <= types.InvalidPageID {
			return nil, corrupt("child %d points at page %d", i, child)
		}
		node.children[i] = child
		offset += childPtrBytes
	}
	return node, nil
}

// leafEntryCost and internalEntryCost are the serialized bytes one entry
// takes in a node of that kind.
func leafEntryCost(key, val []byte) int {
	return keyLenBytes + len(key) + valLenBytes + len(val)
}

func internalEntryCost(key []byte) int {
	return keyLenBytes + len(key) + childPtrBytes
}
