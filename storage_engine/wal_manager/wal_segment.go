package wal_manager

import (
	"fmt"
	"os"
)

/*
This file contains the log file operations

WALSegment.Append is the lowest level. Just writes raw bytes to the file and tracks size.
No fsync: data is in OS buffer, not guaranteed durable.

WALSegment.Sync calls File.Sync(), which forces the OS buffer to disk.
After this, data is durable even if process crashes.
*/

// opens the log file in append-only mode
func (ws *WALSegment) Open() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File != nil {
		return nil
	}

	// O_APPEND ensures atomic appends at the OS level
	file, err := os.OpenFile(ws.FilePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}

	ws.File = file
	ws.Size = stat.Size()
	return nil
}

// Append writes raw bytes at the end of the file and returns the offset they start at.
func (ws *WALSegment) Append(data []byte) (int64, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return 0, fmt.Errorf("wal file not opened")
	}

	offset := ws.Size
	n, err := ws.File.Write(data)
	ws.Size += int64(n)
	if err != nil {
		return 0, err
	}
	return offset, nil
}

func (ws *WALSegment) ReadAt(buf []byte, offset int64) (int, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return 0, fmt.Errorf("wal file not opened")
	}
	return ws.File.ReadAt(buf, offset)
}

func (ws *WALSegment) Sync() error {
	ws.mu.Lock()
	f := ws.File
	ws.mu.Unlock()

	if f == nil {
		return fmt.Errorf("wal file not opened")
	}
	return f.Sync()
}

// Truncate cuts the file back to size bytes.
func (ws *WALSegment) Truncate(size int64) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return fmt.Errorf("wal file not opened")
	}
	if err := ws.File.Truncate(size); err != nil {
		return err
	}
	ws.Size = size
	return ws.File.Sync()
}

func (ws *WALSegment) CurrentSize() int64 {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.Size
}

// Close closes the log file
func (ws *WALSegment) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File != nil {
		err := ws.File.Close()
		ws.File = nil
		return err
	}
	return nil
}
