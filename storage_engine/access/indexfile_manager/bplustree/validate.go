package bplus

import (
	"fmt"

	"GSQLCore/types"
)

// CheckIntegrity walks the whole tree and reports the first broken
// invariant as ErrIndexCorruption: unsorted keys, keys outside their
// separator range, occupancy out of bounds, uneven leaf depth, or a leaf
// chain that skips or reorders leaves.
func (t *BPlusTree) CheckIntegrity() (Stats, error) {
	t.env.latch.RLock()
	defer t.env.latch.RUnlock()

	rootID, err := t.readRoot()
	if err != nil {
		return Stats{}, err
	}

	v := &validator{tree: t, leafDepth: -1}
	if err := v.walk(rootID, 0, nil, nil, true); err != nil {
		return v.stats, err
	}

	// The leaves reached by descent must be exactly the leaf chain, in order.
	for i, leafID := range v.leaves {
		want := types.InvalidPageID
		if i+1 < len(v.leaves) {
			want = v.leaves[i+1]
		}
		if got := v.next[i]; got != want {
			return v.stats, v.fail(leafID, "sibling pointer is %d, expected %d", got, want)
		}
	}
	v.stats.Height = v.leafDepth + 1
	return v.stats, nil
}

// Height returns the number of levels, 1 for a lone root leaf.
func (t *BPlusTree) Height() (int, error) {
	t.env.latch.RLock()
	defer t.env.latch.RUnlock()

	rootID, err := t.readRoot()
	if err != nil {
		return 0, err
	}
	height := 1
	node, err := t.loadNode(rootID)
	for err == nil && !node.isLeaf {
		if height > maxHeight {
			return 0, fmt.Errorf("%w: index %s deeper than %d levels", types.ErrIndexCorruption, t.name, maxHeight)
		}
		height++
		node, err = t.loadNode(node.children[0])
	}
	return height, err
}

type validator struct {
	tree      *BPlusTree
	stats     Stats
	leafDepth int
	leaves    []int64
	next      []int64
	seen      map[int64]bool
}

func (v *validator) fail(pageID int64, format string, args ...any) error {
	return fmt.Errorf("%w: index %s, node %d: %s", types.ErrIndexCorruption, v.tree.name, pageID, fmt.Sprintf(format, args...))
}

// walk checks the subtree at pageID whose keys must lie in [lo, hi).
func (v *validator) walk(pageID int64, depth int, lo, hi []byte, isRoot bool) error {
	t := v.tree
	if depth > maxHeight {
		return v.fail(pageID, "deeper than %d levels", maxHeight)
	}
	if v.seen == nil {
		v.seen = make(map[int64]bool)
	}
	if v.seen[pageID] {
		return v.fail(pageID, "reached twice")
	}
	v.seen[pageID] = true

	node, err := t.loadNode(pageID)
	if err != nil {
		return err
	}

	n := len(node.keys)
	if n > t.maxKeys {
		return v.fail(pageID, "%d keys, max %d", n, t.maxKeys)
	}
	if !isRoot && n < t.minKeys {
		return v.fail(pageID, "%d keys, min %d", n, t.minKeys)
	}
	if isRoot && !node.isLeaf && n == 0 {
		return v.fail(pageID, "internal root without keys")
	}
	for _, key := range node.keys {
		if lo != nil && t.cmp(key, lo) < 0 {
			return v.fail(pageID, "key %x below separator %x", key, lo)
		}
		if hi != nil && t.cmp(key, hi) >= 0 {
			return v.fail(pageID, "key %x not below separator %x", key, hi)
		}
	}

	if node.isLeaf {
		if v.leafDepth < 0 {
			v.leafDepth = depth
		} else if v.leafDepth != depth {
			return v.fail(pageID, "leaf at depth %d, expected %d", depth, v.leafDepth)
		}
		v.stats.LeafNodes++
		v.stats.Keys += n
		v.leaves = append(v.leaves, pageID)
		v.next = append(v.next, node.next)
		return nil
	}

	v.stats.InternalNodes++
	for i, child := range node.children {
		childLo, childHi := lo, hi
		if i > 0 {
			childLo = node.keys[i-1]
		}
		if i < n {
			childHi = node.keys[i]
		}
		if err := v.walk(child, depth+1, childLo, childHi, false); err != nil {
			return err
		}
	}
	return nil
}
