package bplus

import (
	"fmt"

	"GSQLCore/types"
)

/*
Delete removes a key from its leaf. A non-root node left with fewer than
minKeys entries is fixed in this order:
  1. borrow the last entry of the left sibling,
  2. borrow the first entry of the right sibling,
  3. merge with a sibling (into the left one when there is one) and drop the
     separator from the parent, which may underflow in turn.
An internal root left without keys is replaced by its only child.
Merged-away pages are handed to the transaction to be freed on commit.
*/

func (t *BPlusTree) Delete(txnID uint64, key []byte) error {
	t.env.latch.Lock()
	defer t.env.latch.Unlock()

	b := t.env.newBatch(t.cmp)
	defer b.release()

	leaf, path, err := t.findLeaf(b, key)
	if err != nil {
		return err
	}
	idx := binarySearch(leaf.keys, key, t.cmp)
	if idx < 0 {
		return fmt.Errorf("%w: index %s", types.ErrKeyNotFound, t.name)
	}
	leaf.keys = remove(leaf.keys, idx)
	leaf.values = remove(leaf.values, idx)
	b.markDirty(leaf.pageID)

	if err := t.rebalance(b, leaf, path); err != nil {
		return fmt.Errorf("delete: rebalance failed: %w", err)
	}
	return b.commit(txnID, &types.Operation{Type: types.OpDelete, Index: t.name, Key: cloneBytes(key)})
}

func (t *BPlusTree) rebalance(b *batch, node *Node, path []pathStep) error {
	if len(path) == 0 {
		if !node.isLeaf && len(node.keys) == 0 {
			if err := t.setRoot(b, node.children[0]); err != nil {
				return err
			}
			b.freeNode(node)
		}
		return nil
	}
	if len(node.keys) >= t.minKeys {
		return nil
	}

	step := path[len(path)-1]
	parent, i := step.node, step.childIdx

	var left, right *Node
	var err error
	if i > 0 {
		if left, err = b.fetchNode(parent.children[i-1]); err != nil {
			return err
		}
		if len(left.keys) > t.minKeys {
			t.borrowFromLeft(b, node, left, parent, i)
			return nil
		}
	}
	if i < len(parent.children)-1 {
		if right, err = b.fetchNode(parent.children[i+1]); err != nil {
			return err
		}
		if len(right.keys) > t.minKeys {
			t.borrowFromRight(b, node, right, parent, i)
			return nil
		}
	}

	switch {
	case left != nil:
		t.merge(b, left, node, parent, i-1)
	case right != nil:
		t.merge(b, node, right, parent, i)
	default:
		return fmt.Errorf("%w: node %d has no siblings under a non-root parent", types.ErrIndexCorruption, node.pageID)
	}
	return t.rebalance(b, parent, path[:len(path)-1])
}

// borrowFromLeft moves the left sibling's last entry to the front of node.
func (t *BPlusTree) borrowFromLeft(b *batch, node, left, parent *Node, i int) {
	last := len(left.keys) - 1
	if node.isLeaf {
		node.keys = insert(node.keys, 0, left.keys[last])
		node.values = insert(node.values, 0, left.values[last])
		left.keys = left.keys[:last]
		left.values = left.values[:last]
		parent.keys[i-1] = cloneBytes(node.keys[0])
	} else {
		node.keys = insert(node.keys, 0, parent.keys[i-1])
		node.children = insert(node.children, 0, left.children[last+1])
		parent.keys[i-1] = left.keys[last]
		left.keys = left.keys[:last]
		left.children = left.children[:last+1]
	}
	b.markDirty(node.pageID)
	b.markDirty(left.pageID)
	b.markDirty(parent.pageID)
}

// borrowFromRight moves the right sibling's first entry to the end of node.
func (t *BPlusTree) borrowFromRight(b *batch, node, right, parent *Node, i int) {
	if node.isLeaf {
		node.keys = append(node.keys, right.keys[0])
		node.values = append(node.values, right.values[0])
		right.keys = remove(right.keys, 0)
		right.values = remove(right.values, 0)
		parent.keys[i] = cloneBytes(right.keys[0])
	} else {
		node.keys = append(node.keys, parent.keys[i])
		node.children = append(node.children, right.children[0])
		parent.keys[i] = right.keys[0]
		right.keys = remove(right.keys, 0)
		right.children = remove(right.children, 0)
	}
	b.markDirty(node.pageID)
	b.markDirty(right.pageID)
	b.markDirty(parent.pageID)
}

// merge folds right into left and drops parent.keys[sepIdx] together with the
// pointer to right.
func (t *BPlusTree) merge(b *batch, left, right, parent *Node, sepIdx int) {
	if left.isLeaf {
		left.keys = append(left.keys, right.keys...)
		left.values = append(left.values, right.values...)
		left.next = right.next
	} else {
		left.keys = append(left.keys, parent.keys[sepIdx])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}
	parent.keys = remove(parent.keys, sepIdx)
	parent.children = remove(parent.children, sepIdx+1)

	b.markDirty(left.pageID)
	b.markDirty(parent.pageID)
	b.freeNode(right)
}
