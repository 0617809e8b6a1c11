package bplus

import (
	"fmt"

	"GSQLCore/types"
)

// A tree deeper than this is treated as a pointer cycle.
const maxHeight = 64

// pathStep is one internal node on the way down and the child index taken.
type pathStep struct {
	node     *Node
	childIdx int
}

// findLeaf descends from the root to the leaf that covers key, pinning every
// node in b. A nil key picks the leftmost leaf. The returned path lists the
// internal nodes from the root down.
func (t *BPlusTree) findLeaf(b *batch, key []byte) (*Node, []pathStep, error) {
	rootID, err := t.rootID(b)
	if err != nil {
		return nil, nil, err
	}
	node, err := b.fetchNode(rootID)
	if err != nil {
		return nil, nil, err
	}

	var path []pathStep
	for !node.isLeaf {
		if len(path) >= maxHeight {
			return nil, nil, fmt.Errorf("%w: index %s deeper than %d levels", types.ErrIndexCorruption, t.name, maxHeight)
		}
		idx := 0
		if key != nil {
			idx = upperBound(node.keys, key, t.cmp)
		}
		path = append(path, pathStep{node: node, childIdx: idx})
		node, err = b.fetchNode(node.children[idx])
		if err != nil {
			return nil, nil, err
		}
	}
	return node, path, nil
}

// loadNode decodes a node for a reader. The page is pinned only while it is
// decoded; the caller holds the latch shared so the content cannot change.
func (t *BPlusTree) loadNode(pageID int64) (*Node, error) {
	if pageID <= types.InvalidPageID {
		return nil, fmt.Errorf("%w: pointer to page %d", types.ErrIndexCorruption, pageID)
	}
	pg, err := t.env.bufferPool.FetchPage(pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page %d: %w", pageID, err)
	}
	pg.RLock()
	node, err := DeserializeNode(pageID, pg.Data, t.cmp)
	pg.RUnlock()
	if uerr := t.env.bufferPool.UnpinPage(pageID, false); uerr != nil && err == nil {
		err = uerr
	}
	return node, err
}

// readRoot returns the root page id. The caller holds the latch.
func (t *BPlusTree) readRoot() (int64, error) {
	m, err := t.env.readMeta()
	if err != nil {
		return 0, err
	}
	entry, ok := m.Index(t.name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", types.ErrIndexNotFound, t.name)
	}
	return entry.Root, nil
}

// descend is the reader's findLeaf. The caller holds the latch shared.
func (t *BPlusTree) descend(key []byte) (*Node, error) {
	rootID, err := t.readRoot()
	if err != nil {
		return nil, err
	}
	node, err := t.loadNode(rootID)
	if err != nil {
		return nil, err
	}
	for depth := 0; !node.isLeaf; depth++ {
		if depth >= maxHeight {
			return nil, fmt.Errorf("%w: index %s deeper than %d levels", types.ErrIndexCorruption, t.name, maxHeight)
		}
		idx := 0
		if key != nil {
			idx = upperBound(node.keys, key, t.cmp)
		}
		node, err = t.loadNode(node.children[idx])
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}
