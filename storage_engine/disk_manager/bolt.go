package diskmanager

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"GSQLCore/types"
)

/*
bbolt-backed page store. The whole store is still a single file; each page is a
value in the "pages" bucket. Writes run with NoSync and Sync forces the
database file to disk, so durability follows the same sync() contract as the
plain file backend.
*/

var pagesBucket = []byte("pages")

func OpenBoltBackend(filePath string, pageSize int) (*BoltBackend, error) {
	db, err := bolt.Open(filePath, 0644, &bolt.Options{Timeout: time.Second, NoSync: true})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open bolt file %s: %w", types.ErrIOFault, filePath, err)
	}

	next := int64(1)
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(pagesBucket)
		if err != nil {
			return err
		}
		if k, _ := b.Cursor().Last(); k != nil {
			next = int64(binary.BigEndian.Uint64(k)) + 1
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to init bolt file %s: %w", types.ErrIOFault, filePath, err)
	}

	return &BoltBackend{
		FilePath:   filePath,
		db:         db,
		pageSize:   pageSize,
		nextPageID: next,
	}, nil
}

func pageKey(pageID int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(pageID))
	return k
}

func (bb *BoltBackend) PageSize() int {
	return bb.pageSize
}

func (bb *BoltBackend) NumPages() int64 {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return bb.nextPageID
}

// ReadPage returns the stored page, or zeroes for a page never written.
func (bb *BoltBackend) ReadPage(pageID int64) ([]byte, error) {
	if pageID < 0 {
		return nil, fmt.Errorf("invalid page id %d", pageID)
	}
	data := make([]byte, bb.pageSize)
	err := bb.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(pagesBucket).Get(pageKey(pageID)); v != nil {
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read page %d: %w", types.ErrIOFault, pageID, err)
	}
	return data, nil
}

func (bb *BoltBackend) WritePage(pageID int64, data []byte) error {
	if pageID < 0 {
		return fmt.Errorf("invalid page id %d", pageID)
	}
	if len(data) != bb.pageSize {
		return fmt.Errorf("invalid page size: expected %d, got %d", bb.pageSize, len(data))
	}
	// bolt keeps a reference to the value until the transaction commits.
	value := make([]byte, len(data))
	copy(value, data)
	err := bb.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pagesBucket).Put(pageKey(pageID), value)
	})
	if err != nil {
		return fmt.Errorf("%w: failed to write page %d: %w", types.ErrIOFault, pageID, err)
	}

	bb.mu.Lock()
	if pageID >= bb.nextPageID {
		bb.nextPageID = pageID + 1
	}
	bb.mu.Unlock()
	return nil
}

func (bb *BoltBackend) AllocatePage() (int64, error) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	pageID := bb.nextPageID
	bb.nextPageID++
	return pageID, nil
}

func (bb *BoltBackend) FileSize() (int64, error) {
	stat, err := os.Stat(bb.FilePath)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to stat %s: %w", types.ErrIOFault, bb.FilePath, err)
	}
	return stat.Size(), nil
}

func (bb *BoltBackend) Sync() error {
	if err := bb.db.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync %s: %w", types.ErrIOFault, bb.FilePath, err)
	}
	return nil
}

func (bb *BoltBackend) Close() error {
	if err := bb.db.Close(); err != nil {
		return fmt.Errorf("%w: failed to close %s: %w", types.ErrIOFault, bb.FilePath, err)
	}
	return nil
}
