package wal_manager

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dgraph-io/ristretto/v2"
	log "github.com/sirupsen/logrus"

	"GSQLCore/types"
)

/*
Write-ahead log of a store: one append-only file of framed records
	LSN(8) | LEN(4) | CRC(4) | DATA
where DATA is an encoded types.Operation and the CRC covers LSN and DATA.

LSNs are dense and strictly increasing. They keep counting across checkpoints:
the checkpoint file remembers the last LSN and OpenWAL resumes after it.

Recently appended operations are kept in a ristretto cache keyed by LSN so a
rollback reading its own records newest-first rarely touches the file; a
cache miss falls back to the offset index and a file read.
*/

// OpenWAL opens (or creates) the log in dir. Records are validated; a torn
// record at the tail (an interrupted append) is cut off, while a damaged
// record followed by more log fails with ErrWALCorruption.
func OpenWAL(dir string, cacheBytes int64, startLSN uint64) (*WALManager, error) {
	wm := &WALManager{
		FilePath: filepath.Join(dir, WALFileName),
		offsets:  make(map[uint64]int64),
	}
	wm.Segment = &WALSegment{FilePath: wm.FilePath}
	if err := wm.Segment.Open(); err != nil {
		return nil, fmt.Errorf("%w: failed to open wal: %w", types.ErrIOFault, err)
	}

	if cacheBytes > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[uint64, *types.Operation]{
			NumCounters: max(10*(cacheBytes/512), 1000),
			MaxCost:     cacheBytes,
			BufferItems: 64,
		})
		if err != nil {
			wm.Segment.Close()
			return nil, fmt.Errorf("failed to create wal record cache: %w", err)
		}
		wm.cache = cache
	}

	lastLSN := startLSN
	validEnd, err := wm.scan(func(rec *WALRecord, offset int64) error {
		if _, err := types.DecodeOperation(rec.Data); err != nil {
			return fmt.Errorf("record lsn %d: %w", rec.LSN, err)
		}
		wm.offsets[rec.LSN] = offset
		if rec.LSN > lastLSN {
			lastLSN = rec.LSN
		}
		return nil
	})
	if err != nil {
		wm.Close()
		return nil, err
	}

	if size := wm.Segment.CurrentSize(); validEnd < size {
		log.WithFields(log.Fields{"offset": validEnd, "bytes": size - validEnd}).Warn("discarding torn wal tail")
		if err := wm.Segment.Truncate(validEnd); err != nil {
			wm.Close()
			return nil, fmt.Errorf("%w: failed to truncate torn wal tail: %w", types.ErrIOFault, err)
		}
	}

	wm.CurrentLSN = lastLSN
	// Everything that survived in the file is on disk already.
	wm.flushedLSN.Store(lastLSN)

	log.WithFields(log.Fields{"records": len(wm.offsets), "lsn": lastLSN}).Debug("wal opened")
	return wm, nil
}

// AppendOperation frames op, appends it and returns its LSN. The record is
// not durable until Sync/SyncTo covers the LSN.
func (wm *WALManager) AppendOperation(op *types.Operation) (uint64, error) {
	data := op.Encode()
	if len(data) > MaxRecordSize {
		return 0, fmt.Errorf("wal record of %d bytes exceeds limit", len(data))
	}

	wm.mu.Lock()
	defer wm.mu.Unlock()

	lsn := wm.CurrentLSN + 1
	rec := NewWALRecord(lsn, data)
	offset, err := wm.Segment.Append(rec.Encode())
	if err != nil {
		return 0, fmt.Errorf("%w: failed to append wal record: %w", types.ErrIOFault, err)
	}

	wm.CurrentLSN = lsn
	wm.offsets[lsn] = offset
	if wm.cache != nil {
		wm.cache.Set(lsn, op, int64(len(data)))
	}

	log.WithFields(log.Fields{"lsn": lsn, "op": op.Type, "txn": op.TxnID}).Trace("wal append")
	return lsn, nil
}

// Sync makes every appended record durable.
func (wm *WALManager) Sync() error {
	wm.syncMu.Lock()
	defer wm.syncMu.Unlock()

	wm.mu.Lock()
	target := wm.CurrentLSN
	wm.mu.Unlock()

	if target <= wm.flushedLSN.Load() {
		return nil
	}
	if err := wm.Segment.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync wal: %w", types.ErrIOFault, err)
	}
	wm.flushedLSN.Store(target)
	return nil
}

// SyncTo makes the log durable at least up to lsn.
func (wm *WALManager) SyncTo(lsn uint64) error {
	if lsn <= wm.flushedLSN.Load() {
		return nil
	}
	return wm.Sync()
}

func (wm *WALManager) GetFlushedLSN() uint64 {
	return wm.flushedLSN.Load()
}

func (wm *WALManager) GetCurrentLSN() uint64 {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.CurrentLSN
}

// Size is the current length of the log file in bytes.
func (wm *WALManager) Size() int64 {
	return wm.Segment.CurrentSize()
}

// ReadOperation returns the operation logged at lsn.
func (wm *WALManager) ReadOperation(lsn uint64) (*types.Operation, error) {
	if wm.cache != nil {
		if op, ok := wm.cache.Get(lsn); ok {
			return op, nil
		}
	}

	wm.mu.Lock()
	offset, ok := wm.offsets[lsn]
	wm.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: lsn %d is not in the log", types.ErrWALCorruption, lsn)
	}

	rec, err := wm.readRecord(offset)
	if err != nil {
		return nil, err
	}
	if rec.LSN != lsn || !rec.ValidateCRC() {
		return nil, fmt.Errorf("%w: record at offset %d does not hold lsn %d", types.ErrWALCorruption, offset, lsn)
	}
	return types.DecodeOperation(rec.Data)
}

// ReplayFromLSN calls applyFunc for every record with LSN > startLSN, in log order.
func (wm *WALManager) ReplayFromLSN(startLSN uint64, applyFunc func(Entry) error) error {
	_, err := wm.scan(func(rec *WALRecord, _ int64) error {
		if rec.LSN <= startLSN {
			return nil
		}
		op, err := types.DecodeOperation(rec.Data)
		if err != nil {
			return fmt.Errorf("record lsn %d: %w", rec.LSN, err)
		}
		return applyFunc(Entry{LSN: rec.LSN, Op: op})
	})
	return err
}

// Truncate discards every record. Only valid once all of them are covered by
// a checkpoint; LSNs continue from CurrentLSN.
func (wm *WALManager) Truncate() error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if err := wm.Segment.Truncate(0); err != nil {
		return fmt.Errorf("%w: failed to truncate wal: %w", types.ErrIOFault, err)
	}
	wm.offsets = make(map[uint64]int64)
	if wm.cache != nil {
		wm.cache.Clear()
	}
	wm.flushedLSN.Store(wm.CurrentLSN)
	return nil
}

func (wm *WALManager) Close() error {
	if wm.cache != nil {
		wm.cache.Close()
		wm.cache = nil
	}
	return wm.Segment.Close()
}

// scan walks the file from the start and calls fn for each intact record. It
// returns the offset where the intact prefix ends.
func (wm *WALManager) scan(fn func(rec *WALRecord, offset int64) error) (int64, error) {
	size := wm.Segment.CurrentSize()
	var off int64
	var prevLSN uint64

	for off < size {
		if size-off < RecordHeaderSize {
			return off, nil // torn header
		}
		hdr := make([]byte, RecordHeaderSize)
		if _, err := wm.Segment.ReadAt(hdr, off); err != nil {
			return off, fmt.Errorf("%w: failed to read wal at offset %d: %w", types.ErrIOFault, off, err)
		}
		lsn, length, crc := decodeHeader(hdr)
		end := off + RecordHeaderSize + int64(length)
		if end > size {
			return off, nil // torn body
		}
		if length > MaxRecordSize {
			return off, fmt.Errorf("%w: record at offset %d claims %d bytes", types.ErrWALCorruption, off, length)
		}

		data := make([]byte, length)
		if _, err := wm.Segment.ReadAt(data, off+RecordHeaderSize); err != nil && !errors.Is(err, io.EOF) {
			return off, fmt.Errorf("%w: failed to read wal at offset %d: %w", types.ErrIOFault, off, err)
		}
		rec := &WALRecord{LSN: lsn, Data: data, CRC: crc}
		if !rec.ValidateCRC() {
			if end == size {
				return off, nil // torn final record
			}
			return off, fmt.Errorf("%w: crc mismatch at offset %d (lsn %d)", types.ErrWALCorruption, off, lsn)
		}
		if lsn <= prevLSN {
			return off, fmt.Errorf("%w: lsn %d follows lsn %d", types.ErrWALCorruption, lsn, prevLSN)
		}
		if err := fn(rec, off); err != nil {
			return off, err
		}
		prevLSN = lsn
		off = end
	}
	return off, nil
}

func (wm *WALManager) readRecord(offset int64) (*WALRecord, error) {
	hdr := make([]byte, RecordHeaderSize)
	if _, err := wm.Segment.ReadAt(hdr, offset); err != nil {
		return nil, fmt.Errorf("%w: failed to read wal at offset %d: %w", types.ErrIOFault, offset, err)
	}
	lsn, length, crc := decodeHeader(hdr)
	if length > MaxRecordSize {
		return nil, fmt.Errorf("%w: record at offset %d claims %d bytes", types.ErrWALCorruption, offset, length)
	}
	data := make([]byte, length)
	if _, err := wm.Segment.ReadAt(data, offset+RecordHeaderSize); err != nil {
		return nil, fmt.Errorf("%w: failed to read wal at offset %d: %w", types.ErrIOFault, offset, err)
	}
	return &WALRecord{LSN: lsn, Data: data, CRC: crc}, nil
}
