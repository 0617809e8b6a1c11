package bplus

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/btree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GSQLCore/storage_engine/bufferpool"
	diskmanager "GSQLCore/storage_engine/disk_manager"
	"GSQLCore/types"
)

const testPageSize = 4096

// memLogger hands out LSNs without writing anything.
type memLogger struct {
	lsn   uint64
	ops   []types.OperationType
	freed []int64
}

func (l *memLogger) LogPageWrites(txnID uint64, op *types.Operation, freed, allocated []int64) (uint64, error) {
	l.lsn++
	l.ops = append(l.ops, op.Type)
	l.freed = append(l.freed, freed...)
	return l.lsn, nil
}

type testEnv struct {
	env    *Env
	dm     *diskmanager.DiskManager
	logger *memLogger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithPool(t, 512)
}

func newTestEnvWithPool(t *testing.T, frames int) *testEnv {
	t.Helper()
	dm, err := diskmanager.OpenDiskManager(filepath.Join(t.TempDir(), "index.db"), testPageSize)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	logger := &memLogger{}
	env := NewEnv(bufferpool.NewBufferPool(frames, dm), dm, logger)
	formatted, err := env.Format(0)
	require.NoError(t, err)
	require.True(t, formatted)
	return &testEnv{env: env, dm: dm, logger: logger}
}

func (te *testEnv) tree(t *testing.T, name string, degree int) *BPlusTree {
	t.Helper()
	tree, err := te.env.CreateTree(0, name, Options{MaxDegree: degree})
	require.NoError(t, err)
	return tree
}

func collectInts(t *testing.T, c *Cursor) []int64 {
	t.Helper()
	entries, err := c.Collect()
	require.NoError(t, err)
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		v, err := types.DecodeInt64Key(e.Key)
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestFormatIsIdempotent(t *testing.T) {
	te := newTestEnv(t)

	formatted, err := te.env.Format(0)
	require.NoError(t, err)
	assert.False(t, formatted)

	m, err := te.env.Meta()
	require.NoError(t, err)
	assert.Equal(t, testPageSize, m.PageSize)
	assert.Empty(t, m.Indexes)
}

func TestSplitAndRangeScan(t *testing.T) {
	te := newTestEnv(t)
	tree := te.tree(t, "ids", 4)

	for i := int64(1); i <= 9; i++ {
		require.NoError(t, tree.Insert(1, types.Int64Key(i), []byte(fmt.Sprintf("v%d", i))))
	}

	height, err := tree.Height()
	require.NoError(t, err)
	assert.Equal(t, 2, height)

	stats, err := tree.CheckIntegrity()
	require.NoError(t, err)
	assert.Equal(t, Stats{Height: 2, Keys: 9, LeafNodes: 4, InternalNodes: 1}, stats)

	got := collectInts(t, tree.RangeScan(types.Int64Key(3), types.Int64Key(7)))
	assert.Equal(t, []int64{3, 4, 5, 6, 7}, got)

	got = collectInts(t, tree.RangeScan(nil, types.Int64Key(2)))
	assert.Equal(t, []int64{1, 2}, got)

	val, ok, err := tree.Search(types.Int64Key(6))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v6"), val)

	_, ok, err = tree.Search(types.Int64Key(10))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutModes(t *testing.T) {
	te := newTestEnv(t)
	tree := te.tree(t, "kv", 8)
	key := []byte("alpha")

	require.NoError(t, tree.Insert(1, key, []byte("1")))
	assert.ErrorIs(t, tree.Insert(1, key, []byte("2")), types.ErrDuplicateKey)
	assert.ErrorIs(t, tree.Update(1, []byte("beta"), []byte("x")), types.ErrKeyNotFound)

	require.NoError(t, tree.Update(1, key, []byte("3")))
	require.NoError(t, tree.Put(1, []byte("beta"), []byte("4")))
	require.NoError(t, tree.Put(1, key, []byte("5")))

	val, ok, err := tree.Search(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("5"), val)

	assert.ErrorIs(t, tree.Delete(1, []byte("gamma")), types.ErrKeyNotFound)
	require.NoError(t, tree.Delete(1, key))
	_, ok, err = tree.Search(key)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, types.OpInsert, te.logger.ops[len(te.logger.ops)-5])
	assert.Equal(t, types.OpDelete, te.logger.ops[len(te.logger.ops)-1])
}

func TestAllowDuplicatesOverwrites(t *testing.T) {
	te := newTestEnv(t)
	tree, err := te.env.CreateTree(0, "dups", Options{MaxDegree: 8, AllowDuplicates: true})
	require.NoError(t, err)

	require.NoError(t, tree.Insert(1, []byte("k"), []byte("old")))
	require.NoError(t, tree.Insert(1, []byte("k"), []byte("new")))

	val, ok, err := tree.Search([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), val)

	reopened, err := te.env.OpenTree("dups")
	require.NoError(t, err)
	assert.True(t, reopened.AllowDuplicates())
	assert.Equal(t, 8, reopened.MaxDegree())
}

func TestTreeCatalogErrors(t *testing.T) {
	te := newTestEnv(t)
	te.tree(t, "users", 16)

	_, err := te.env.CreateTree(0, "users", Options{MaxDegree: 16})
	assert.ErrorIs(t, err, types.ErrIndexExists)

	_, err = te.env.OpenTree("missing")
	assert.ErrorIs(t, err, types.ErrIndexNotFound)

	_, err = te.env.CreateTree(0, "", Options{MaxDegree: 16})
	assert.Error(t, err)
	_, err = te.env.CreateTree(0, "tiny", Options{MaxDegree: 2})
	assert.Error(t, err)
	_, err = te.env.CreateTree(0, "huge", Options{MaxDegree: testPageSize})
	assert.Error(t, err)
}

func TestEntryLimits(t *testing.T) {
	te := newTestEnv(t)
	tree := te.tree(t, "big", 16)

	assert.Error(t, tree.Insert(1, nil, []byte("v")))

	budget := entryBudget(testPageSize, 16)
	assert.ErrorIs(t, tree.Insert(1, []byte("k"), make([]byte, budget)), types.ErrEntryTooLarge)
	assert.NoError(t, tree.Insert(1, []byte("k"), make([]byte, budget-leafEntryCost([]byte("k"), nil))))
}

type refItem struct {
	key, value []byte
}

func (a refItem) Less(than btree.Item) bool {
	return bytes.Compare(a.key, than.(refItem).key) < 0
}

func TestRandomOpsMatchReference(t *testing.T) {
	te := newTestEnv(t)
	tree := te.tree(t, "random", 5)
	ref := btree.New(8)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 3000; i++ {
		key := types.Int64Key(rng.Int63n(500))
		switch rng.Intn(3) {
		case 0, 1:
			value := []byte(fmt.Sprintf("v%d", i))
			require.NoError(t, tree.Put(1, key, value))
			ref.ReplaceOrInsert(refItem{key: key, value: value})
		case 2:
			err := tree.Delete(1, key)
			if ref.Delete(refItem{key: key}) == nil {
				assert.ErrorIs(t, err, types.ErrKeyNotFound)
			} else {
				require.NoError(t, err)
			}
		}
		if i%500 == 0 {
			_, err := tree.CheckIntegrity()
			require.NoError(t, err, "after op %d", i)
		}
	}

	stats, err := tree.CheckIntegrity()
	require.NoError(t, err)
	assert.Equal(t, ref.Len(), stats.Keys)

	entries, err := tree.RangeScan(nil, nil).Collect()
	require.NoError(t, err)
	require.Len(t, entries, ref.Len())
	i := 0
	ref.Ascend(func(item btree.Item) bool {
		want := item.(refItem)
		assert.Equal(t, want.key, entries[i].Key)
		assert.Equal(t, want.value, entries[i].Value)
		i++
		return true
	})
}

func TestDeleteAllCollapsesTree(t *testing.T) {
	te := newTestEnv(t)
	tree := te.tree(t, "shrink", 4)

	for i := int64(0); i < 200; i++ {
		require.NoError(t, tree.Insert(1, types.Int64Key(i), []byte("x")))
	}
	for i := int64(0); i < 200; i++ {
		require.NoError(t, tree.Delete(1, types.Int64Key(i)))
	}

	stats, err := tree.CheckIntegrity()
	require.NoError(t, err)
	assert.Equal(t, Stats{Height: 1, LeafNodes: 1}, stats)
	require.NotEmpty(t, te.logger.freed)

	n, err := te.env.ReleasePages(0, te.logger.freed)
	require.NoError(t, err)
	assert.Equal(t, len(te.logger.freed), n)
	m, err := te.env.Meta()
	require.NoError(t, err)
	assert.Equal(t, te.logger.freed[len(te.logger.freed)-1], m.FreeHead)

	// New nodes come off the free list.
	pages := te.dm.NumPages()
	for i := int64(0); i < 50; i++ {
		require.NoError(t, tree.Insert(1, types.Int64Key(i), []byte("y")))
	}
	assert.Equal(t, pages, te.dm.NumPages())
	_, err = tree.CheckIntegrity()
	require.NoError(t, err)

	n, err = te.env.ReleasePages(0, []int64{types.MetaPageID})
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestReleasePagesInChunks(t *testing.T) {
	te := newTestEnvWithPool(t, 32)
	tree := te.tree(t, "bulk", 8)

	for i := int64(0); i < 600; i++ {
		require.NoError(t, tree.Insert(1, types.Int64Key(i), []byte("x")))
	}
	for i := int64(0); i < 600; i++ {
		require.NoError(t, tree.Delete(1, types.Int64Key(i)))
	}
	freed := te.logger.freed
	require.Greater(t, len(freed), 32, "more pages than the pool holds")

	chunk := te.env.releaseChunk()
	assert.Equal(t, 8, chunk)
	first := len(te.logger.ops)
	n, err := te.env.ReleasePages(0, freed)
	require.NoError(t, err)
	assert.Equal(t, len(freed), n)

	ops := te.logger.ops[first:]
	assert.Len(t, ops, (len(freed)+chunk-1)/chunk)
	for _, op := range ops {
		assert.Equal(t, types.OpFreePages, op)
	}
	m, err := te.env.Meta()
	require.NoError(t, err)
	head := m.FreeHead
	assert.Equal(t, freed[len(freed)-1], head)

	// Releasing the same pages again finds them on the free list already.
	n, err = te.env.ReleasePages(0, freed)
	require.NoError(t, err)
	assert.Equal(t, len(freed), n)
	m, err = te.env.Meta()
	require.NoError(t, err)
	assert.Equal(t, head, m.FreeHead)

	pages := te.dm.NumPages()
	for i := int64(0); i < 600; i++ {
		require.NoError(t, tree.Insert(1, types.Int64Key(i), []byte("y")))
	}
	assert.Equal(t, pages, te.dm.NumPages())
	_, err = tree.CheckIntegrity()
	require.NoError(t, err)
}

func TestTreesShareOneFile(t *testing.T) {
	te := newTestEnv(t)
	a := te.tree(t, "a", 4)
	b := te.tree(t, "b", 4)

	for i := int64(0); i < 40; i++ {
		require.NoError(t, a.Insert(1, types.Int64Key(i), []byte("a")))
		require.NoError(t, b.Insert(1, types.Int64Key(i*10), []byte("b")))
	}

	got := collectInts(t, b.RangeScan(types.Int64Key(0), types.Int64Key(50)))
	assert.Equal(t, []int64{0, 10, 20, 30, 40, 50}, got)

	statsA, err := a.CheckIntegrity()
	require.NoError(t, err)
	statsB, err := b.CheckIntegrity()
	require.NoError(t, err)
	assert.Equal(t, 40, statsA.Keys)
	assert.Equal(t, 40, statsB.Keys)
}

func TestCursorSurvivesConcurrentChanges(t *testing.T) {
	te := newTestEnv(t)
	tree := te.tree(t, "moving", 4)
	for i := int64(0); i < 300; i += 2 {
		require.NoError(t, tree.Insert(1, types.Int64Key(i), []byte("even")))
	}

	c := tree.RangeScan(nil, nil)
	var seen []int64
	for len(seen) < 10 && c.Next() {
		v, err := types.DecodeInt64Key(c.Key())
		require.NoError(t, err)
		seen = append(seen, v)
	}
	require.Len(t, seen, 10)

	// Reshape the tree under the cursor.
	for i := int64(1); i < 300; i += 2 {
		require.NoError(t, tree.Insert(1, types.Int64Key(i), []byte("odd")))
	}
	for i := int64(100); i < 200; i += 2 {
		require.NoError(t, tree.Delete(1, types.Int64Key(i)))
	}

	for c.Next() {
		v, err := types.DecodeInt64Key(c.Key())
		require.NoError(t, err)
		seen = append(seen, v)
	}
	require.NoError(t, c.Err())
	for i := 1; i < len(seen); i++ {
		require.Less(t, seen[i-1], seen[i])
	}
	assert.Equal(t, int64(299), seen[len(seen)-1])

	c.Rewind()
	require.True(t, c.Next())
	first, err := types.DecodeInt64Key(c.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(0), first)
	c.Close()
	assert.False(t, c.Next())
}

func TestNodeCodec(t *testing.T) {
	buf := make([]byte, testPageSize)

	leaf := &Node{
		pageID: 7,
		isLeaf: true,
		keys:   [][]byte{[]byte("a"), []byte("b")},
		values: [][]byte{[]byte("1"), {}},
		next:   9,
	}
	require.NoError(t, SerializeNode(leaf, buf))
	got, err := DeserializeNode(7, buf, bytes.Compare)
	require.NoError(t, err)
	assert.True(t, got.IsLeaf())
	assert.Equal(t, 2, got.NumKeys())
	assert.Equal(t, int64(9), got.Next())
	assert.Equal(t, leaf.keys, got.keys)
	assert.Equal(t, []byte("1"), got.values[0])
	assert.Empty(t, got.values[1])

	internal := &Node{
		pageID:   3,
		keys:     [][]byte{[]byte("m")},
		children: []int64{4, 5},
		next:     types.InvalidPageID,
	}
	require.NoError(t, SerializeNode(internal, buf))
	got, err = DeserializeNode(3, buf, bytes.Compare)
	require.NoError(t, err)
	assert.False(t, got.IsLeaf())
	assert.Equal(t, []int64{4, 5}, got.children)

	bad := &Node{pageID: 3, keys: [][]byte{[]byte("m")}, children: []int64{4}}
	assert.Error(t, SerializeNode(bad, buf))
}

func TestDeserializeRejectsDamage(t *testing.T) {
	buf := make([]byte, testPageSize)

	unordered := &Node{
		pageID: 2,
		isLeaf: true,
		keys:   [][]byte{[]byte("b"), []byte("a")},
		values: [][]byte{{}, {}},
	}
	require.NoError(t, SerializeNode(unordered, buf))
	_, err := DeserializeNode(2, buf, bytes.Compare)
	assert.ErrorIs(t, err, types.ErrIndexCorruption)

	toMeta := &Node{pageID: 2, keys: [][]byte{[]byte("m")}, children: []int64{0, 5}}
	require.NoError(t, SerializeNode(toMeta, buf))
	_, err = DeserializeNode(2, buf, bytes.Compare)
	assert.ErrorIs(t, err, types.ErrIndexCorruption)

	_, err = DeserializeNode(2, make([]byte, testPageSize), bytes.Compare)
	assert.ErrorIs(t, err, types.ErrIndexCorruption)
}
