package page

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"GSQLCore/types"
)

/*
Page is the buffer pool frame: one page's bytes plus the pin count and dirty
flag the pool keeps for it. Every page type shares the header laid out in
types/page.go (LSN, type tag, checksum); the rest of the layout belongs to the
owner of the type tag (B+Tree nodes, metadata page, free pages).

PinCount and IsDirty are guarded by the buffer pool's mutex. Data is guarded by
the page latch (Lock/RLock).
*/

type Page struct {
	ID       int64
	Data     []byte
	IsDirty  bool
	PinCount int32
	mu       sync.RWMutex
}

func New(id int64, size int) *Page {
	return &Page{ID: id, Data: make([]byte, size)}
}

func (p *Page) Lock() {
	p.mu.Lock()
}

func (p *Page) Unlock() {
	p.mu.Unlock()
}

func (p *Page) RLock() {
	p.mu.RLock()
}

func (p *Page) RUnlock() {
	p.mu.RUnlock()
}

// LSN and Type read the header; the caller holds the latch.
func (p *Page) LSN() uint64 {
	return LSNOf(p.Data)
}

func (p *Page) Type() types.PageType {
	return TypeOf(p.Data)
}

// Snapshot copies the page bytes under the read latch.
func (p *Page) Snapshot() []byte {
	p.RLock()
	defer p.RUnlock()
	out := make([]byte, len(p.Data))
	copy(out, p.Data)
	return out
}

// Apply overwrites the page with image (nil means a zeroed page) and stamps
// lsn into the header. The caller holds the write latch.
func (p *Page) Apply(image []byte, lsn uint64) {
	if image == nil {
		clear(p.Data)
	} else {
		copy(p.Data, image)
	}
	SetLSN(p.Data, lsn)
}

func LSNOf(data []byte) uint64 {
	return binary.BigEndian.Uint64(data[types.PageLSNOffset:])
}

func SetLSN(data []byte, lsn uint64) {
	binary.BigEndian.PutUint64(data[types.PageLSNOffset:], lsn)
}

func TypeOf(data []byte) types.PageType {
	return types.PageType(data[types.PageTypeOffset])
}

func SetType(data []byte, t types.PageType) {
	data[types.PageTypeOffset] = byte(t)
}

// Checksum hashes every byte of the page except the checksum field itself.
func Checksum(data []byte) uint32 {
	d := xxhash.New()
	_, _ = d.Write(data[:types.PageChecksumOffset])
	_, _ = d.Write(data[types.PageChecksumOffset+4:])
	return uint32(d.Sum64())
}

// Stamp writes the checksum into the header. Called right before write-back.
func Stamp(data []byte) {
	binary.BigEndian.PutUint32(data[types.PageChecksumOffset:], Checksum(data))
}

// Verify checks a page read from the backend. A never-written page is all
// zeroes and carries no checksum.
func Verify(data []byte) error {
	stored := binary.BigEndian.Uint32(data[types.PageChecksumOffset:])
	if stored == 0 && isZero(data) {
		return nil
	}
	if got := Checksum(data); got != stored {
		return fmt.Errorf("%w: stored %08x, computed %08x", types.ErrPageChecksum, stored, got)
	}
	return nil
}

func isZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
