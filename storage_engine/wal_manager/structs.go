package wal_manager

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"

	"GSQLCore/types"
)

const (
	RecordHeaderSize = 16 // LSN(8) | LEN(4) | CRC(4)
	WALFileName      = "wal.log"
	MaxRecordSize    = 64 << 20
)

// WALManager owns the single append-only log file of a store.
type WALManager struct {
	FilePath   string
	Segment    *WALSegment
	CurrentLSN uint64
	flushedLSN atomic.Uint64
	offsets    map[uint64]int64 // lsn -> offset of its frame in the file
	cache      *ristretto.Cache[uint64, *types.Operation]
	mu         sync.Mutex
	syncMu     sync.Mutex
}

// WALSegment is the log file itself.
type WALSegment struct {
	FilePath string
	File     *os.File
	Size     int64
	mu       sync.Mutex
}

// WALRecord is one framed log record.
type WALRecord struct {
	LSN  uint64
	Data []byte
	CRC  uint32
}

// Entry is a decoded record handed to replay callbacks.
type Entry struct {
	LSN uint64
	Op  *types.Operation
}
