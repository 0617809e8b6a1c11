package types

const (
	DefaultPageSize = 4096 // 4KB page
	MinPageSize     = 512
	MaxPageSize     = 65536

	// Header shared by every page type.
	PageLSNOffset      = 0  // uint64, LSN of the last WAL record applied to the page
	PageTypeOffset     = 8  // uint8, PageType tag
	PageChecksumOffset = 12 // uint32, xxhash of the rest of the page
	PageHeaderSize     = 16
)

const (
	// MetaPageID is reserved for store metadata.
	MetaPageID int64 = 0
	// InvalidPageID doubles as "no page": page 0 is never a node or a free page.
	InvalidPageID int64 = 0
)

type PageType uint8

const (
	PageTypeFree PageType = iota
	PageTypeMeta
	PageTypeBTreeInternal
	PageTypeBTreeLeaf
	PageTypeWALRecord
)

func (t PageType) String() string {
	switch t {
	case PageTypeFree:
		return "free"
	case PageTypeMeta:
		return "meta"
	case PageTypeBTreeInternal:
		return "btree-internal"
	case PageTypeBTreeLeaf:
		return "btree-leaf"
	case PageTypeWALRecord:
		return "wal-record"
	default:
		return "unknown"
	}
}
