package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"GSQLCore/types"
)

/*
This file is the main file of the checkpoint manager
A checkpoint is written after all dirty pages are flushed and the page file is
synced; the WAL is truncated right after. The file keeps the LSN (and txn id)
counters alive across truncations, so page LSNs on disk always stay below
every LSN the reopened WAL hands out.
*/

func NewCheckpointManager(dbPath string) *CheckpointManager {
	return &CheckpointManager{
		checkpointPath: filepath.Join(dbPath, CheckpointFileName),
	}
}

// SaveCheckpoint atomically saves a checkpoint
func (cm *CheckpointManager) SaveCheckpoint(lsn, nextTxnID uint64) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	checkpoint := Checkpoint{
		LSN:       lsn,
		NextTxnID: nextTxnID,
		Timestamp: time.Now().Unix(),
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// Atomic write: temp file, fsync, rename, fsync directory.
	tempPath := cm.checkpointPath + ".tmp"
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: failed to create temp checkpoint: %w", types.ErrIOFault, err)
	}
	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("%w: failed to write temp checkpoint: %w", types.ErrIOFault, err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("%w: failed to sync temp checkpoint: %w", types.ErrIOFault, err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, cm.checkpointPath); err != nil {
		return fmt.Errorf("%w: failed to rename checkpoint: %w", types.ErrIOFault, err)
	}

	if dir, err := os.Open(filepath.Dir(cm.checkpointPath)); err == nil {
		dir.Sync()
		dir.Close()
	}

	log.WithField("lsn", lsn).Debug("checkpoint saved")
	return nil
}

// LoadCheckpoint loads the last checkpoint. A store without one starts at LSN 0.
func (cm *CheckpointManager) LoadCheckpoint() (*Checkpoint, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	data, err := os.ReadFile(cm.checkpointPath)
	if os.IsNotExist(err) {
		return &Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read checkpoint: %w", types.ErrIOFault, err)
	}

	// Without a trustworthy LSN floor, redo could skip records, so a damaged
	// checkpoint keeps the store closed.
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("%w: checkpoint file unreadable: %w", types.ErrWALCorruption, err)
	}

	log.WithFields(log.Fields{"lsn": checkpoint.LSN, "timestamp": checkpoint.Timestamp}).Debug("checkpoint loaded")
	return &checkpoint, nil
}
