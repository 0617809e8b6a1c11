package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GSQLCore/types"
)

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	cm := NewCheckpointManager(dir)

	ckpt, err := cm.LoadCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ckpt.LSN, "a store without a checkpoint starts at LSN 0")

	require.NoError(t, cm.SaveCheckpoint(120, 9))
	require.NoError(t, cm.SaveCheckpoint(250, 14))

	ckpt, err = NewCheckpointManager(dir).LoadCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, uint64(250), ckpt.LSN)
	assert.Equal(t, uint64(14), ckpt.NextTxnID)
	assert.NotZero(t, ckpt.Timestamp)

	_, err = os.Stat(filepath.Join(dir, CheckpointFileName+".tmp"))
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestDamagedCheckpoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CheckpointFileName), []byte("{\"lsn\": "), 0644))
	_, err := NewCheckpointManager(dir).LoadCheckpoint()
	assert.ErrorIs(t, err, types.ErrWALCorruption)
}
