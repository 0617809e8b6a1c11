package bplus

import "GSQLCore/types"

// cursorBatch is how many entries a cursor copies out of the tree per refill.
const cursorBatch = 64

/*
Cursor is a forward range scan over [low, high] (inclusive; nil bounds are
open). It never holds a pin or the latch between calls: each refill copies up
to cursorBatch entries under the shared latch and remembers the last key it
buffered. If any tree changed since the previous refill, the next refill
descends again from that key instead of following the stale sibling pointer,
so a cursor survives concurrent splits and merges and never returns a key
twice.
*/
type Cursor struct {
	tree      *BPlusTree
	low, high []byte

	buf      []Entry
	pos      int
	cur      Entry
	last     []byte
	nextLeaf int64
	version  uint64
	started  bool
	done     bool
	err      error
}

// RangeScan returns a cursor positioned before the first key >= low.
func (t *BPlusTree) RangeScan(low, high []byte) *Cursor {
	return &Cursor{tree: t, low: cloneBytes(low), high: cloneBytes(high)}
}

// Next advances to the next entry. It returns false at the end of the range
// or on error; check Err afterwards.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	for c.pos >= len(c.buf) {
		if c.done {
			return false
		}
		if err := c.fill(); err != nil {
			c.err = err
			return false
		}
	}
	c.cur = c.buf[c.pos]
	c.pos++
	return true
}

func (c *Cursor) Key() []byte {
	return c.cur.Key
}

func (c *Cursor) Value() []byte {
	return c.cur.Value
}

func (c *Cursor) Entry() Entry {
	return c.cur
}

func (c *Cursor) Err() error {
	return c.err
}

// Rewind restarts the scan from the low bound.
func (c *Cursor) Rewind() {
	*c = Cursor{tree: c.tree, low: c.low, high: c.high}
}

// Close ends the scan. Cursors hold no pins, so this only drops the buffer.
func (c *Cursor) Close() {
	c.buf = nil
	c.done = true
}

// Collect drains the cursor.
func (c *Cursor) Collect() ([]Entry, error) {
	var out []Entry
	for c.Next() {
		out = append(out, c.Entry())
	}
	return out, c.Err()
}

func (c *Cursor) fill() error {
	t := c.tree
	t.env.latch.RLock()
	defer t.env.latch.RUnlock()

	c.buf = c.buf[:0]
	c.pos = 0

	for len(c.buf) < cursorBatch && !c.done {
		var leaf *Node
		var err error
		if !c.started || c.version != t.env.version.Load() {
			seek := c.low
			if c.last != nil {
				seek = c.last
			}
			leaf, err = t.descend(seek)
		} else {
			leaf, err = t.loadNode(c.nextLeaf)
		}
		if err != nil {
			return err
		}
		c.started = true
		c.version = t.env.version.Load()

		for i, key := range leaf.keys {
			if c.low != nil && t.cmp(key, c.low) < 0 {
				continue
			}
			if c.last != nil && t.cmp(key, c.last) <= 0 {
				continue
			}
			if c.high != nil && t.cmp(key, c.high) > 0 {
				c.done = true
				break
			}
			c.buf = append(c.buf, Entry{Key: key, Value: leaf.values[i]})
			c.last = key
		}
		if c.done {
			break
		}
		c.nextLeaf = leaf.next
		if leaf.next == types.InvalidPageID {
			c.done = true
		}
	}
	return nil
}
