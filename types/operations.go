package types

import (
	"encoding/binary"
	"fmt"
)

type OperationType byte

const (
	// Index mutations, each carrying the page images it produced.
	OpInsert      OperationType = 1
	OpUpdate      OperationType = 2
	OpDelete      OperationType = 3
	OpCreateIndex OperationType = 4

	// Transaction boundaries.
	OpTxnBegin  OperationType = 5
	OpTxnCommit OperationType = 6
	OpTxnAbort  OperationType = 7

	// Free-list maintenance and compensation (undo) records.
	OpFreePages  OperationType = 8
	OpCompensate OperationType = 9

	// Initialization of the metadata page of a new store.
	OpFormat OperationType = 10
)

func (t OperationType) String() string {
	switch t {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	case OpCreateIndex:
		return "CREATE_INDEX"
	case OpTxnBegin:
		return "BEGIN"
	case OpTxnCommit:
		return "COMMIT"
	case OpTxnAbort:
		return "ABORT"
	case OpFreePages:
		return "FREE_PAGES"
	case OpCompensate:
		return "COMPENSATE"
	case OpFormat:
		return "FORMAT"
	default:
		return fmt.Sprintf("OP(%d)", byte(t))
	}
}

// PageImage is one page's content before and after an operation.
type PageImage struct {
	PageID int64
	Before []byte
	After  []byte
}

// Operation is the payload of a WAL record.
type Operation struct {
	Type   OperationType
	TxnID  uint64
	UndoOf uint64 // LSN compensated by an OpCompensate record
	Index  string
	Key    []byte
	Pages  []PageImage
}

// WritesPages reports whether redo has to apply this operation's after-images.
func (op *Operation) WritesPages() bool {
	return len(op.Pages) > 0
}

// Undoable reports whether rollback has to restore this operation's before-images.
func (op *Operation) Undoable() bool {
	return op.WritesPages() && op.Type != OpCompensate
}

/*
Binary layout:
	type(1) | txn(8) | undoOf(8) | indexLen(2) | index | keyLen(2) | key | pages(2) |
	per page: id(8) | beforeLen(4) | before | afterLen(4) | after
*/
func (op *Operation) Encode() []byte {
	size := 1 + 8 + 8 + 2 + len(op.Index) + 2 + len(op.Key) + 2
	for _, p := range op.Pages {
		size += 8 + 4 + len(p.Before) + 4 + len(p.After)
	}

	buf := make([]byte, size)
	buf[0] = byte(op.Type)
	off := 1
	binary.BigEndian.PutUint64(buf[off:], op.TxnID)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], op.UndoOf)
	off += 8
	binary.BigEndian.PutUint16(buf[off:], uint16(len(op.Index)))
	off += 2
	off += copy(buf[off:], op.Index)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(op.Key)))
	off += 2
	off += copy(buf[off:], op.Key)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(op.Pages)))
	off += 2
	for _, p := range op.Pages {
		binary.BigEndian.PutUint64(buf[off:], uint64(p.PageID))
		off += 8
		binary.BigEndian.PutUint32(buf[off:], uint32(len(p.Before)))
		off += 4
		off += copy(buf[off:], p.Before)
		binary.BigEndian.PutUint32(buf[off:], uint32(len(p.After)))
		off += 4
		off += copy(buf[off:], p.After)
	}
	return buf
}

func DecodeOperation(data []byte) (*Operation, error) {
	r := opReader{buf: data}
	op := &Operation{}
	op.Type = OperationType(r.u8())
	op.TxnID = r.u64()
	op.UndoOf = r.u64()
	op.Index = string(r.bytes(int(r.u16())))
	if key := r.bytes(int(r.u16())); len(key) > 0 {
		op.Key = key
	}
	n := int(r.u16())
	for i := 0; i < n && r.err == nil; i++ {
		var p PageImage
		p.PageID = int64(r.u64())
		p.Before = r.bytes(int(r.u32()))
		p.After = r.bytes(int(r.u32()))
		op.Pages = append(op.Pages, p)
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWALCorruption, r.err)
	}
	if r.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes in operation", ErrWALCorruption, len(data)-r.off)
	}
	return op, nil
}

type opReader struct {
	buf []byte
	off int
	err error
}

func (r *opReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("operation truncated at offset %d (need %d bytes)", r.off, n)
		return false
	}
	return true
}

func (r *opReader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *opReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *opReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *opReader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *opReader) bytes(n int) []byte {
	if n == 0 || !r.need(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out
}
