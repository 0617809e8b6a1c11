package storageengine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"GSQLCore/config"
	"GSQLCore/logging/loggingtest"
	bplus "GSQLCore/storage_engine/access/indexfile_manager/bplustree"
	txn "GSQLCore/storage_engine/transaction_manager"
	"GSQLCore/types"
)

const testIndex = "items"

func testConfig() config.Config {
	cfg := config.Default()
	cfg.BufferPoolPages = 64
	cfg.LockTimeout = 200 * time.Millisecond
	cfg.MaxDegree = 4
	return cfg
}

func openStore(t *testing.T, dir string, cfg config.Config) *StorageEngine {
	t.Helper()
	se, err := Open(dir, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { se.Close() })
	return se
}

func newStore(t *testing.T) (*StorageEngine, string) {
	t.Helper()
	loggingtest.Setup(t)
	dir := t.TempDir()
	se := openStore(t, dir, testConfig())
	require.NoError(t, se.CreateIndex(context.Background(), testIndex, bplus.Options{}))
	return se, dir
}

func key(i int64) []byte {
	return types.Int64Key(i)
}

// commitKeys writes key(i) -> "v<i>" for every i in one transaction.
func commitKeys(t *testing.T, se *StorageEngine, ids ...int64) {
	t.Helper()
	ctx := context.Background()
	tid, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	for _, i := range ids {
		require.NoError(t, se.Put(ctx, tid, testIndex, key(i), []byte(fmt.Sprintf("v%d", i))))
	}
	require.NoError(t, se.Commit(tid))
}

// keysIn returns the keys of testIndex as read by a fresh transaction.
func keysIn(t *testing.T, se *StorageEngine) []int64 {
	t.Helper()
	ctx := context.Background()
	tid, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	entries, err := se.Scan(ctx, tid, testIndex, nil, nil)
	require.NoError(t, err)
	require.NoError(t, se.Commit(tid))

	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		v, err := types.DecodeInt64Key(e.Key)
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestCommitSurvivesCrash(t *testing.T) {
	se, dir := newStore(t)
	ctx := context.Background()

	tid, err := se.Begin(ctx, txn.Immediate)
	require.NoError(t, err)
	require.NoError(t, se.Insert(ctx, tid, testIndex, key(1), []byte("x")))
	require.NoError(t, se.Commit(tid))
	require.NoError(t, se.Crash())

	se = openStore(t, dir, testConfig())
	tid, err = se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	val, ok, err := se.Get(ctx, tid, testIndex, key(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), val)
	require.NoError(t, se.Commit(tid))

	// Transaction ids keep increasing across the crash.
	assert.Greater(t, se.TxnManager.NextID(), tid)
}

func TestRollbackRestoresState(t *testing.T) {
	se, _ := newStore(t)
	ctx := context.Background()
	commitKeys(t, se, 1, 2, 3, 4)

	tid, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	require.NoError(t, se.Insert(ctx, tid, testIndex, key(5), []byte("new")))
	require.NoError(t, se.Delete(ctx, tid, testIndex, key(2)))
	require.NoError(t, se.Update(ctx, tid, testIndex, key(3), []byte("changed")))
	require.NoError(t, se.Rollback(tid))

	assert.Equal(t, []int64{1, 2, 3, 4}, keysIn(t, se))

	tid, err = se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	val, ok, err := se.Get(ctx, tid, testIndex, key(3))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v3"), val)
	require.NoError(t, se.Commit(tid))

	assert.ErrorIs(t, se.Commit(12345), types.ErrTxnNotFound)
	stats, err := se.CheckIntegrity(testIndex)
	require.NoError(t, err)
	assert.Equal(t, 4, stats[testIndex].Keys)
}

func TestRollbackOfSplitsFreesPages(t *testing.T) {
	se, _ := newStore(t)
	ctx := context.Background()
	commitKeys(t, se, 1, 2, 3)

	tid, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	for i := int64(10); i < 60; i++ {
		require.NoError(t, se.Insert(ctx, tid, testIndex, key(i), []byte("tmp")))
	}
	require.NoError(t, se.Rollback(tid))

	assert.Equal(t, []int64{1, 2, 3}, keysIn(t, se))
	stats, err := se.CheckIntegrity("")
	require.NoError(t, err)
	assert.Equal(t, 1, stats[testIndex].Height)

	// The pages the rolled-back splits took are reused.
	pages := se.DiskManager.NumPages()
	commitKeys(t, se, 10, 11, 12, 13, 14, 15)
	assert.Equal(t, pages, se.DiskManager.NumPages())
}

func TestCrashUndoesUncommitted(t *testing.T) {
	se, dir := newStore(t)
	ctx := context.Background()
	commitKeys(t, se, 1, 2)

	tid, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	require.NoError(t, se.Delete(ctx, tid, testIndex, key(1)))
	for i := int64(20); i < 40; i++ {
		require.NoError(t, se.Insert(ctx, tid, testIndex, key(i), []byte("lost")))
	}
	// Push the uncommitted changes all the way to the page file.
	require.NoError(t, se.BufferPool.FlushAllPages())
	require.NoError(t, se.Crash())

	se = openStore(t, dir, testConfig())
	assert.Equal(t, []int64{1, 2}, keysIn(t, se))
	require.NoError(t, se.Crash())

	// Recovering a recovered store changes nothing.
	se = openStore(t, dir, testConfig())
	assert.Equal(t, []int64{1, 2}, keysIn(t, se))
	_, err = se.CheckIntegrity("")
	require.NoError(t, err)
	assert.Empty(t, se.ActiveTransactions())
}

func TestSavepoints(t *testing.T) {
	se, _ := newStore(t)
	ctx := context.Background()

	tid, err := se.Begin(ctx, txn.Immediate)
	require.NoError(t, err)
	require.NoError(t, se.Insert(ctx, tid, testIndex, key(1), []byte("a")))
	require.NoError(t, se.Savepoint(tid, "sp"))
	require.NoError(t, se.Insert(ctx, tid, testIndex, key(2), []byte("b")))
	require.NoError(t, se.Insert(ctx, tid, testIndex, key(3), []byte("c")))
	require.NoError(t, se.RollbackTo(tid, "sp"))

	// The savepoint stays usable.
	require.NoError(t, se.Insert(ctx, tid, testIndex, key(4), []byte("d")))
	require.NoError(t, se.RollbackTo(tid, "sp"))
	require.NoError(t, se.Insert(ctx, tid, testIndex, key(5), []byte("e")))

	assert.ErrorIs(t, se.RollbackTo(tid, "nope"), types.ErrSavepointNotFound)
	require.NoError(t, se.Commit(tid))

	assert.Equal(t, []int64{1, 5}, keysIn(t, se))
}

func TestExclusiveBlocksReaders(t *testing.T) {
	se, _ := newStore(t)
	ctx := context.Background()
	commitKeys(t, se, 1)

	a, err := se.Begin(ctx, txn.Exclusive)
	require.NoError(t, err)
	b, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)

	start := time.Now()
	_, _, err = se.Get(ctx, b, testIndex, key(1))
	assert.ErrorIs(t, err, types.ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), se.Config().LockTimeout)

	_, err = se.Begin(ctx, txn.Immediate)
	assert.ErrorIs(t, err, types.ErrLockTimeout)

	require.NoError(t, se.Commit(a))

	// A lock timeout leaves b usable.
	val, ok, err := se.Get(ctx, b, testIndex, key(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), val)
	require.NoError(t, se.Commit(b))
}

func TestWriterLocksOnlyItsKeys(t *testing.T) {
	se, _ := newStore(t)
	ctx := context.Background()
	commitKeys(t, se, 1, 2)

	w, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	require.NoError(t, se.Put(ctx, w, testIndex, key(1), []byte("dirty")))

	r, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	val, ok, err := se.Get(ctx, r, testIndex, key(2))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), val)

	_, _, err = se.Get(ctx, r, testIndex, key(1))
	assert.ErrorIs(t, err, types.ErrLockTimeout)

	// One writer at a time.
	assert.ErrorIs(t, se.Put(ctx, r, testIndex, key(2), []byte("x")), types.ErrLockTimeout)

	require.NoError(t, se.Commit(w))
	val, ok, err = se.Get(ctx, r, testIndex, key(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("dirty"), val)
	require.NoError(t, se.Rollback(r))
}

func TestConcurrentReaders(t *testing.T) {
	se, _ := newStore(t)
	ids := make([]int64, 100)
	for i := range ids {
		ids[i] = int64(i)
	}
	commitKeys(t, se, ids...)

	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			tid, err := se.Begin(ctx, txn.Deferred)
			if err != nil {
				return err
			}
			for _, i := range ids {
				val, ok, err := se.Get(ctx, tid, testIndex, key(i))
				if err != nil {
					return err
				}
				if !ok || string(val) != fmt.Sprintf("v%d", i) {
					return fmt.Errorf("key %d: got %q, %v", i, val, ok)
				}
			}
			return se.Commit(tid)
		})
	}
	require.NoError(t, g.Wait())
}

func TestScannerSkipsDeletedKeys(t *testing.T) {
	se, _ := newStore(t)
	ctx := context.Background()
	commitKeys(t, se, 1, 2, 3, 4, 5, 6)

	tid, err := se.Begin(ctx, txn.Immediate)
	require.NoError(t, err)
	sc, err := se.OpenScan(ctx, tid, testIndex, key(2), key(5))
	require.NoError(t, err)

	require.True(t, sc.Next())
	assert.Equal(t, key(2), sc.Entry().Key)
	require.NoError(t, se.Delete(ctx, tid, testIndex, key(3)))

	var rest [][]byte
	for sc.Next() {
		rest = append(rest, sc.Entry().Key)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, [][]byte{key(4), key(5)}, rest)

	sc.Rewind()
	require.True(t, sc.Next())
	assert.Equal(t, key(2), sc.Entry().Key)
	sc.Close()
	require.NoError(t, se.Commit(tid))
}

func TestIndexCatalog(t *testing.T) {
	se, dir := newStore(t)
	ctx := context.Background()

	err := se.CreateIndex(ctx, testIndex, bplus.Options{})
	assert.ErrorIs(t, err, types.ErrIndexExists)
	require.NoError(t, se.CreateIndex(ctx, "dups", bplus.Options{MaxDegree: 8, AllowDuplicates: true}))

	tid, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	require.NoError(t, se.Insert(ctx, tid, "dups", []byte("k"), []byte("1")))
	require.NoError(t, se.Insert(ctx, tid, "dups", []byte("k"), []byte("2")))
	assert.ErrorIs(t, se.Insert(ctx, tid, "missing", []byte("k"), nil), types.ErrIndexNotFound)
	assert.True(t, IsNotFound(se.Delete(ctx, tid, testIndex, []byte("absent"))))
	require.NoError(t, se.Commit(tid))
	require.NoError(t, se.Close())

	se = openStore(t, dir, testConfig())
	infos, err := se.Indexes()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	names := []string{infos[0].Name, infos[1].Name}
	assert.ElementsMatch(t, []string{testIndex, "dups"}, names)
}

func TestInspectPages(t *testing.T) {
	se, _ := newStore(t)
	ids := make([]int64, 40)
	for i := range ids {
		ids[i] = int64(i)
	}
	commitKeys(t, se, ids...)

	infos, err := se.InspectPages(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, infos)
	assert.Equal(t, types.PageTypeMeta, infos[0].Type)

	keys := 0
	for _, info := range infos {
		assert.Empty(t, info.Problem, "page %d", info.PageID)
		if info.Type == types.PageTypeBTreeLeaf {
			keys += info.Keys
		}
	}
	assert.Equal(t, 40, keys)
}

func TestBoltBackend(t *testing.T) {
	loggingtest.Setup(t)
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Backend = "bolt"
	ctx := context.Background()

	se := openStore(t, dir, cfg)
	require.NoError(t, se.CreateIndex(ctx, testIndex, bplus.Options{}))
	commitKeys(t, se, 7, 8, 9)
	require.NoError(t, se.Crash())

	se = openStore(t, dir, cfg)
	assert.Equal(t, []int64{7, 8, 9}, keysIn(t, se))
}

func TestClosedStore(t *testing.T) {
	se, _ := newStore(t)
	ctx := context.Background()

	tid, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	require.NoError(t, se.Put(ctx, tid, testIndex, key(1), []byte("pending")))
	require.NoError(t, se.Close())
	require.NoError(t, se.Close())

	_, err = se.Begin(ctx, txn.Deferred)
	assert.ErrorIs(t, err, types.ErrStoreClosed)
	assert.ErrorIs(t, se.Commit(tid), types.ErrStoreClosed)
	_, err = se.Stats()
	assert.ErrorIs(t, err, types.ErrStoreClosed)
}

func TestCheckpointTruncatesWAL(t *testing.T) {
	se, dir := newStore(t)
	ctx := context.Background()
	commitKeys(t, se, 1, 2, 3)

	before, err := se.Stats()
	require.NoError(t, err)
	require.Greater(t, before.WALBytes, int64(0))

	require.NoError(t, se.Checkpoint(ctx))
	after, err := se.Stats()
	require.NoError(t, err)
	assert.Zero(t, after.WALBytes)
	assert.Equal(t, before.CurrentLSN, after.CheckpointLSN)

	commitKeys(t, se, 4)
	require.NoError(t, se.Crash())
	se = openStore(t, dir, testConfig())
	assert.Equal(t, []int64{1, 2, 3, 4}, keysIn(t, se))
}

// bulkConfig uses the smallest pool allowed, so the workloads below touch
// several times more pages than it holds.
func bulkConfig() config.Config {
	cfg := testConfig()
	cfg.BufferPoolPages = config.MinBufferPoolPages
	cfg.MaxDegree = 32
	return cfg
}

const bulkKeys = 800

func newBulkStore(t *testing.T) (*StorageEngine, string) {
	t.Helper()
	loggingtest.Setup(t)
	dir := t.TempDir()
	se := openStore(t, dir, bulkConfig())
	require.NoError(t, se.CreateIndex(context.Background(), testIndex, bplus.Options{}))
	return se, dir
}

func keyRange(lo, hi int64) []int64 {
	ids := make([]int64, 0, hi-lo)
	for i := lo; i < hi; i++ {
		ids = append(ids, i)
	}
	return ids
}

func insertKeys(t *testing.T, se *StorageEngine, tid uint64, lo, hi int64) {
	t.Helper()
	ctx := context.Background()
	for i := lo; i < hi; i++ {
		require.NoError(t, se.Insert(ctx, tid, testIndex, key(i), []byte(fmt.Sprintf("v%d", i))))
	}
}

func leafCount(t *testing.T, se *StorageEngine) int {
	t.Helper()
	stats, err := se.CheckIntegrity("")
	require.NoError(t, err)
	return stats[testIndex].LeafNodes
}

func TestBulkRollback(t *testing.T) {
	se, _ := newBulkStore(t)
	ctx := context.Background()

	tid, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	insertKeys(t, se, tid, 0, bulkKeys)
	require.Greater(t, leafCount(t, se), config.MinBufferPoolPages)
	pages := se.DiskManager.NumPages()

	require.NoError(t, se.Rollback(tid))
	assert.Empty(t, keysIn(t, se))
	assert.Empty(t, se.ActiveTransactions())
	assert.Empty(t, se.Locks())

	// The store accepts writers again and reuses every released page.
	commitKeys(t, se, keyRange(0, bulkKeys)...)
	assert.Len(t, keysIn(t, se), bulkKeys)
	assert.Equal(t, pages, se.DiskManager.NumPages())
}

func TestBulkDeleteThenCommit(t *testing.T) {
	se, _ := newBulkStore(t)
	ctx := context.Background()
	commitKeys(t, se, keyRange(0, bulkKeys)...)
	require.Greater(t, leafCount(t, se), config.MinBufferPoolPages)
	pages := se.DiskManager.NumPages()

	tid, err := se.Begin(ctx, txn.Immediate)
	require.NoError(t, err)
	for i := int64(0); i < bulkKeys; i++ {
		require.NoError(t, se.Delete(ctx, tid, testIndex, key(i)))
	}
	require.NoError(t, se.Commit(tid))
	assert.Empty(t, keysIn(t, se))
	assert.Empty(t, se.ActiveTransactions())

	commitKeys(t, se, keyRange(0, bulkKeys)...)
	assert.Equal(t, pages, se.DiskManager.NumPages())
}

func TestBulkRollbackToSavepoint(t *testing.T) {
	se, _ := newBulkStore(t)
	ctx := context.Background()

	tid, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	require.NoError(t, se.Savepoint(tid, "empty"))
	insertKeys(t, se, tid, 0, bulkKeys)
	pages := se.DiskManager.NumPages()

	require.NoError(t, se.RollbackTo(tid, "empty"))
	require.NoError(t, se.Commit(tid))
	assert.Empty(t, keysIn(t, se))

	// Pages orphaned by the savepoint rollback were released at commit.
	commitKeys(t, se, keyRange(0, bulkKeys)...)
	assert.Equal(t, pages, se.DiskManager.NumPages())
}

func TestCrashWithBulkLoser(t *testing.T) {
	se, dir := newBulkStore(t)
	ctx := context.Background()
	commitKeys(t, se, 1, 2)

	tid, err := se.Begin(ctx, txn.Deferred)
	require.NoError(t, err)
	insertKeys(t, se, tid, 10, 10+bulkKeys)
	require.NoError(t, se.WalManager.Sync())
	pages := se.DiskManager.NumPages()
	require.NoError(t, se.Crash())

	se = openStore(t, dir, bulkConfig())
	assert.Equal(t, []int64{1, 2}, keysIn(t, se))
	assert.Empty(t, se.ActiveTransactions())

	commitKeys(t, se, keyRange(10, 10+bulkKeys)...)
	assert.LessOrEqual(t, se.DiskManager.NumPages(), pages)
}

func TestActiveTransactionsWhileWriting(t *testing.T) {
	se, _ := newStore(t)
	ctx := context.Background()
	tid, err := se.Begin(ctx, txn.Immediate)
	require.NoError(t, err)

	var g errgroup.Group
	g.Go(func() error {
		for i := int64(0); i < 200; i++ {
			if err := se.Insert(ctx, tid, testIndex, key(i), []byte("x")); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < 200; i++ {
			for _, info := range se.ActiveTransactions() {
				if info.Records > 200 {
					return fmt.Errorf("transaction %d reports %d records", info.ID, info.Records)
				}
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	info := se.ActiveTransactions()
	require.Len(t, info, 1)
	assert.Equal(t, 200, info[0].Records)
	assert.Positive(t, info[0].DirtyPages)
	require.NoError(t, se.Commit(tid))
}
