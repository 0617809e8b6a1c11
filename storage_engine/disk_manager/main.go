package diskmanager

import (
	"errors"
	"fmt"
	"io"
	"os"

	"GSQLCore/types"
)

/*
File backend of the storage core.
It owns the page file handle, reads and writes pages at pageID*pageSize and
hands out fresh page ids past the end of the file. Page 0 is reserved for the
store metadata (meta.go) and is never returned by AllocatePage.

Device errors are wrapped in types.ErrIOFault and never retried here.
*/

func OpenDiskManager(filePath string, pageSize int) (*DiskManager, error) {
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open file %s: %w", types.ErrIOFault, filePath, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: failed to stat file: %w", types.ErrIOFault, err)
	}

	// A torn last page still counts as allocated; ReadPage pads it.
	numPages := (stat.Size() + int64(pageSize) - 1) / int64(pageSize)
	if numPages < 1 {
		numPages = 1
	}

	return &DiskManager{
		FilePath:   filePath,
		file:       file,
		pageSize:   pageSize,
		nextPageID: numPages,
	}, nil
}

func (dm *DiskManager) PageSize() int {
	return dm.pageSize
}

func (dm *DiskManager) NumPages() int64 {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.nextPageID
}

// ReadPage reads a page from disk. Pages past the end of the file read as zeroes.
func (dm *DiskManager) ReadPage(pageID int64) ([]byte, error) {
	if pageID < 0 {
		return nil, fmt.Errorf("invalid page id %d", pageID)
	}
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	if dm.file == nil {
		return nil, types.ErrStoreClosed
	}

	data := make([]byte, dm.pageSize)
	offset := pageID * int64(dm.pageSize)
	// A short read at EOF leaves the remainder of data zeroed.
	if _, err := dm.file.ReadAt(data, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to read page %d: %w", types.ErrIOFault, pageID, err)
	}
	return data, nil
}

// WritePage writes a whole page to disk.
func (dm *DiskManager) WritePage(pageID int64, data []byte) error {
	if pageID < 0 {
		return fmt.Errorf("invalid page id %d", pageID)
	}
	if len(data) != dm.pageSize {
		return fmt.Errorf("invalid page size: expected %d, got %d", dm.pageSize, len(data))
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return types.ErrStoreClosed
	}

	offset := pageID * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("%w: failed to write page %d: %w", types.ErrIOFault, pageID, err)
	}

	// Update next page id if we wrote beyond the current end
	if pageID >= dm.nextPageID {
		dm.nextPageID = pageID + 1
	}
	return nil
}

// AllocatePage reserves the next page id. The file grows when the page is first written.
func (dm *DiskManager) AllocatePage() (int64, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return 0, types.ErrStoreClosed
	}
	pageID := dm.nextPageID
	dm.nextPageID++
	return pageID, nil
}

func (dm *DiskManager) FileSize() (int64, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	if dm.file == nil {
		return 0, types.ErrStoreClosed
	}
	stat, err := dm.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to stat file: %w", types.ErrIOFault, err)
	}
	return stat.Size(), nil
}

// Sync flushes the page file to stable storage.
func (dm *DiskManager) Sync() error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	if dm.file == nil {
		return types.ErrStoreClosed
	}
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync %s: %w", types.ErrIOFault, dm.FilePath, err)
	}
	return nil
}

func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	err := dm.file.Close()
	dm.file = nil
	if err != nil {
		return fmt.Errorf("%w: failed to close %s: %w", types.ErrIOFault, dm.FilePath, err)
	}
	return nil
}
