package diskmanager

import (
	"encoding/binary"
	"fmt"

	"GSQLCore/storage_engine/page"
	"GSQLCore/types"
)

/*
Page 0 layout (after the common page header):
	magic "GSQL"(4) | version(2) | pageSize(4) | freeHead(8) | indexCount(2) |
	per index: nameLen(1) | name | root(8) | maxDegree(2) | flags(1)

Free pages form a singly linked list through the free-list head; a free page
stores the next free page id right after its header, followed by "FREE" so an
all-zero page is never mistaken for a list member.
*/

const (
	metaMagic   = "GSQL"
	metaVersion = 1

	metaMagicOffset     = types.PageHeaderSize
	metaVersionOffset   = metaMagicOffset + 4
	metaPageSizeOffset  = metaVersionOffset + 2
	metaFreeHeadOffset  = metaPageSizeOffset + 4
	metaIndexCntOffset  = metaFreeHeadOffset + 8
	metaIndexesOffset   = metaIndexCntOffset + 2
	metaEntryFixedBytes = 1 + 8 + 2 + 1

	flagAllowDuplicates = 1 << 0

	MaxIndexNameLen = 255

	freeNextOffset  = types.PageHeaderSize
	freeMagicOffset = freeNextOffset + 8
	freeMagic       = "FREE"
)

// Open opens the backend named by kind ("file" or "bolt").
func Open(kind, filePath string, pageSize int) (Backend, error) {
	switch kind {
	case "", "file":
		return OpenDiskManager(filePath, pageSize)
	case "bolt":
		return OpenBoltBackend(filePath, pageSize)
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func NewMeta(pageSize int) *Meta {
	return &Meta{PageSize: pageSize, FreeHead: types.InvalidPageID}
}

// IsFormatted reports whether data holds an initialized metadata page.
func IsFormatted(data []byte) bool {
	return len(data) >= metaIndexesOffset &&
		page.TypeOf(data) == types.PageTypeMeta &&
		string(data[metaMagicOffset:metaMagicOffset+4]) == metaMagic
}

// PersistedPageSize reads the page size recorded in page 0, if the store is formatted.
func PersistedPageSize(b Backend) (int, bool, error) {
	data, err := b.ReadPage(types.MetaPageID)
	if err != nil {
		return 0, false, err
	}
	if !IsFormatted(data) {
		return 0, false, nil
	}
	return int(binary.BigEndian.Uint32(data[metaPageSizeOffset:])), true, nil
}

func (m *Meta) Index(name string) (*IndexEntry, bool) {
	for i := range m.Indexes {
		if m.Indexes[i].Name == name {
			return &m.Indexes[i], true
		}
	}
	return nil, false
}

func (m *Meta) encodedSize() int {
	size := metaIndexesOffset
	for _, e := range m.Indexes {
		size += metaEntryFixedBytes + len(e.Name)
	}
	return size
}

// Encode writes the metadata into buf, a full page. The LSN already in buf is kept.
func (m *Meta) Encode(buf []byte) error {
	if m.encodedSize() > len(buf) {
		return fmt.Errorf("metadata page full: %d indexes need %d bytes", len(m.Indexes), m.encodedSize())
	}
	lsn := page.LSNOf(buf)
	clear(buf)
	page.SetLSN(buf, lsn)
	page.SetType(buf, types.PageTypeMeta)

	copy(buf[metaMagicOffset:], metaMagic)
	binary.BigEndian.PutUint16(buf[metaVersionOffset:], metaVersion)
	binary.BigEndian.PutUint32(buf[metaPageSizeOffset:], uint32(m.PageSize))
	binary.BigEndian.PutUint64(buf[metaFreeHeadOffset:], uint64(m.FreeHead))
	binary.BigEndian.PutUint16(buf[metaIndexCntOffset:], uint16(len(m.Indexes)))

	off := metaIndexesOffset
	for _, e := range m.Indexes {
		if len(e.Name) == 0 || len(e.Name) > MaxIndexNameLen {
			return fmt.Errorf("invalid index name length %d", len(e.Name))
		}
		buf[off] = byte(len(e.Name))
		off++
		off += copy(buf[off:], e.Name)
		binary.BigEndian.PutUint64(buf[off:], uint64(e.Root))
		off += 8
		binary.BigEndian.PutUint16(buf[off:], uint16(e.MaxDegree))
		off += 2
		var flags byte
		if e.AllowDuplicates {
			flags |= flagAllowDuplicates
		}
		buf[off] = flags
		off++
	}
	return nil
}

func DecodeMeta(data []byte) (*Meta, error) {
	if !IsFormatted(data) {
		return nil, fmt.Errorf("%w: page 0 is not a metadata page", types.ErrIndexCorruption)
	}
	if v := binary.BigEndian.Uint16(data[metaVersionOffset:]); v != metaVersion {
		return nil, fmt.Errorf("%w: unsupported metadata version %d", types.ErrIndexCorruption, v)
	}

	m := &Meta{
		PageSize: int(binary.BigEndian.Uint32(data[metaPageSizeOffset:])),
		FreeHead: int64(binary.BigEndian.Uint64(data[metaFreeHeadOffset:])),
	}
	count := int(binary.BigEndian.Uint16(data[metaIndexCntOffset:]))
	off := metaIndexesOffset
	for i := 0; i < count; i++ {
		if off+1 > len(data) {
			return nil, fmt.Errorf("%w: metadata index table truncated", types.ErrIndexCorruption)
		}
		nameLen := int(data[off])
		off++
		if nameLen == 0 || off+nameLen+metaEntryFixedBytes-1 > len(data) {
			return nil, fmt.Errorf("%w: metadata index entry %d truncated", types.ErrIndexCorruption, i)
		}
		e := IndexEntry{Name: string(data[off : off+nameLen])}
		off += nameLen
		e.Root = int64(binary.BigEndian.Uint64(data[off:]))
		off += 8
		e.MaxDegree = int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		e.AllowDuplicates = data[off]&flagAllowDuplicates != 0
		off++
		m.Indexes = append(m.Indexes, e)
	}
	return m, nil
}

// EncodeFreePage turns buf into a free-list page pointing at next.
func EncodeFreePage(buf []byte, next int64) {
	lsn := page.LSNOf(buf)
	clear(buf)
	page.SetLSN(buf, lsn)
	page.SetType(buf, types.PageTypeFree)
	binary.BigEndian.PutUint64(buf[freeNextOffset:], uint64(next))
	copy(buf[freeMagicOffset:], freeMagic)
}

// IsFreePage reports whether data is a member of the free list.
func IsFreePage(data []byte) bool {
	return len(data) >= freeMagicOffset+len(freeMagic) &&
		page.TypeOf(data) == types.PageTypeFree &&
		string(data[freeMagicOffset:freeMagicOffset+len(freeMagic)]) == freeMagic
}

// FreePageNext returns the next pointer of a free-list page.
func FreePageNext(data []byte) (int64, error) {
	if !IsFreePage(data) {
		return 0, fmt.Errorf("%w: free-list page has type %s and no free marker", types.ErrIndexCorruption, page.TypeOf(data))
	}
	return int64(binary.BigEndian.Uint64(data[freeNextOffset:])), nil
}
