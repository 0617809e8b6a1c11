package lockmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"GSQLCore/types"
)

func TestSharing(t *testing.T) {
	cases := []struct {
		held, requested LockLevel
		shared          bool
	}{
		{IntentShared, IntentShared, true},
		{IntentShared, Write, true},
		{Write, IntentShared, true},
		{Write, Write, false},
		{IntentShared, Exclusive, false},
		{Shared, Shared, true},
		{Shared, Exclusive, false},
		{Exclusive, Shared, false},
	}
	for _, c := range cases {
		lm := NewLockManager(20 * time.Millisecond)
		ctx := context.Background()
		require.NoError(t, lm.Lock(ctx, 1, StoreResource, c.held))
		err := lm.Lock(ctx, 2, StoreResource, c.requested)
		if c.shared {
			assert.NoError(t, err, "%s then %s", c.held, c.requested)
		} else {
			assert.ErrorIs(t, err, types.ErrLockTimeout, "%s then %s", c.held, c.requested)
		}
	}
}

func TestReleaseWakesWaiter(t *testing.T) {
	lm := NewLockManager(5 * time.Second)
	ctx := context.Background()
	rec := RecordResource("idx", []byte("k"))
	require.NoError(t, lm.Lock(ctx, 1, rec, Exclusive))

	granted := make(chan error, 1)
	go func() { granted <- lm.Lock(ctx, 2, rec, Shared) }()

	select {
	case <-granted:
		t.Fatal("shared lock granted while exclusive is held")
	case <-time.After(50 * time.Millisecond):
	}

	lm.ReleaseAll(1)
	select {
	case err := <-granted:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken")
	}
	assert.Equal(t, Shared, lm.Held(2, rec))
	assert.Equal(t, LockLevel(0), lm.Held(1, rec))
}

func TestUpgradeAndReentry(t *testing.T) {
	lm := NewLockManager(20 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, lm.Lock(ctx, 1, StoreResource, IntentShared))
	require.NoError(t, lm.Lock(ctx, 1, StoreResource, IntentShared))
	require.NoError(t, lm.Lock(ctx, 1, StoreResource, Write))
	require.NoError(t, lm.Lock(ctx, 1, StoreResource, IntentShared), "a weaker request is already satisfied")
	assert.Equal(t, Write, lm.Held(1, StoreResource))

	// a reader still gets in beside the writer, a second writer does not
	require.NoError(t, lm.Lock(ctx, 2, StoreResource, IntentShared))
	assert.ErrorIs(t, lm.Lock(ctx, 2, StoreResource, Write), types.ErrLockTimeout)
	assert.Equal(t, IntentShared, lm.Held(2, StoreResource), "a failed upgrade keeps the old level")
}

func TestQueuedWritersAreFIFO(t *testing.T) {
	lm := NewLockManager(5 * time.Second)
	ctx := context.Background()
	require.NoError(t, lm.Lock(ctx, 1, StoreResource, Exclusive))

	order := make(chan uint64, 2)
	var g errgroup.Group
	for _, id := range []uint64{2, 3} {
		id := id
		g.Go(func() error {
			if err := lm.Lock(ctx, id, StoreResource, Write); err != nil {
				return err
			}
			order <- id
			lm.ReleaseAll(id)
			return nil
		})
		time.Sleep(30 * time.Millisecond) // queue 2 before 3
	}

	lm.ReleaseAll(1)
	require.NoError(t, g.Wait())
	assert.Equal(t, uint64(2), <-order)
	assert.Equal(t, uint64(3), <-order)
	assert.Empty(t, lm.Locks())
}

func TestContextCancelsWait(t *testing.T) {
	lm := NewLockManager(5 * time.Second)
	require.NoError(t, lm.Lock(context.Background(), 1, StoreResource, Exclusive))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := lm.Lock(ctx, 2, StoreResource, IntentShared)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	locks := lm.Locks()
	require.Len(t, locks, 1)
	assert.Equal(t, uint64(1), locks[0].TxnID)
	assert.Equal(t, "store", locks[0].Resource.String())
}
