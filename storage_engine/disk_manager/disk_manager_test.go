package diskmanager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GSQLCore/storage_engine/page"
	"GSQLCore/types"
)

const testPageSize = 512

func openBackends(t *testing.T) map[string]func() Backend {
	dir := t.TempDir()
	return map[string]func() Backend{
		"file": func() Backend {
			b, err := Open("file", filepath.Join(dir, "data.db"), testPageSize)
			require.NoError(t, err)
			return b
		},
		"bolt": func() Backend {
			b, err := Open("bolt", filepath.Join(dir, "data.bolt"), testPageSize)
			require.NoError(t, err)
			return b
		},
	}
}

func TestBackendRoundTrip(t *testing.T) {
	for name, open := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			b := open()
			assert.Equal(t, int64(1), b.NumPages(), "page 0 is reserved")

			id, err := b.AllocatePage()
			require.NoError(t, err)
			assert.Equal(t, int64(1), id)

			data := make([]byte, testPageSize)
			for i := range data {
				data[i] = byte(i)
			}
			require.NoError(t, b.WritePage(id, data))
			require.NoError(t, b.Sync())

			got, err := b.ReadPage(id)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			unwritten, err := b.ReadPage(9)
			require.NoError(t, err)
			assert.Equal(t, make([]byte, testPageSize), unwritten)

			assert.Error(t, b.WritePage(id, data[:10]), "short page")
			require.NoError(t, b.Close())

			// reopen: data survives and allocation continues past it
			b = open()
			defer b.Close()
			got, err = b.ReadPage(id)
			require.NoError(t, err)
			assert.Equal(t, data, got)
			next, err := b.AllocatePage()
			require.NoError(t, err)
			assert.Equal(t, int64(2), next)
		})
	}
}

func TestFileBackendClosed(t *testing.T) {
	b, err := OpenDiskManager(filepath.Join(t.TempDir(), "data.db"), testPageSize)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	_, err = b.ReadPage(0)
	assert.ErrorIs(t, err, types.ErrStoreClosed)
	require.NoError(t, b.Close())
}

func TestMetaEncoding(t *testing.T) {
	buf := make([]byte, testPageSize)
	page.SetLSN(buf, 42)
	assert.False(t, IsFormatted(buf))

	m := NewMeta(testPageSize)
	m.FreeHead = 7
	m.Indexes = []IndexEntry{
		{Name: "users", Root: 3, MaxDegree: 4},
		{Name: "orders_by_date", Root: 9, MaxDegree: 32, AllowDuplicates: true},
	}
	require.NoError(t, m.Encode(buf))
	assert.True(t, IsFormatted(buf))
	assert.Equal(t, uint64(42), page.LSNOf(buf), "Encode keeps the page LSN")

	got, err := DecodeMeta(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	e, ok := got.Index("orders_by_date")
	require.True(t, ok)
	assert.Equal(t, int64(9), e.Root)
	_, ok = got.Index("missing")
	assert.False(t, ok)

	_, err = DecodeMeta(make([]byte, testPageSize))
	assert.ErrorIs(t, err, types.ErrIndexCorruption)
}

func TestMetaPageFull(t *testing.T) {
	m := NewMeta(testPageSize)
	for i := 0; i < 10; i++ {
		m.Indexes = append(m.Indexes, IndexEntry{Name: string(make([]byte, 60)), Root: 1, MaxDegree: 4})
	}
	assert.Error(t, m.Encode(make([]byte, testPageSize)))
}

func TestPersistedPageSize(t *testing.T) {
	b, err := OpenDiskManager(filepath.Join(t.TempDir(), "data.db"), testPageSize)
	require.NoError(t, err)
	defer b.Close()

	_, formatted, err := PersistedPageSize(b)
	require.NoError(t, err)
	assert.False(t, formatted)

	buf := make([]byte, testPageSize)
	require.NoError(t, NewMeta(testPageSize).Encode(buf))
	require.NoError(t, b.WritePage(types.MetaPageID, buf))

	size, formatted, err := PersistedPageSize(b)
	require.NoError(t, err)
	assert.True(t, formatted)
	assert.Equal(t, testPageSize, size)
}

func TestFreePage(t *testing.T) {
	buf := make([]byte, testPageSize)
	page.SetLSN(buf, 5)
	assert.False(t, IsFreePage(buf), "a zeroed page is not on the free list")
	_, err := FreePageNext(buf)
	assert.ErrorIs(t, err, types.ErrIndexCorruption)

	EncodeFreePage(buf, 12)
	assert.True(t, IsFreePage(buf))
	assert.Equal(t, uint64(5), page.LSNOf(buf))
	next, err := FreePageNext(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(12), next)
}
