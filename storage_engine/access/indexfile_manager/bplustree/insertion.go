package bplus

import (
	"fmt"

	"GSQLCore/types"
)

type putMode int

const (
	putInsert putMode = iota // new key; an existing key is a DuplicateKey unless the tree allows duplicates
	putUpdate                // existing key only
	putUpsert                // either
)

// Insert adds key with value. An existing key fails with ErrDuplicateKey,
// or has its value replaced when the tree allows duplicates.
func (t *BPlusTree) Insert(txnID uint64, key, value []byte) error {
	return t.put(txnID, key, value, putInsert)
}

// Update replaces the value of an existing key.
func (t *BPlusTree) Update(txnID uint64, key, value []byte) error {
	return t.put(txnID, key, value, putUpdate)
}

// Put inserts key or replaces its value.
func (t *BPlusTree) Put(txnID uint64, key, value []byte) error {
	return t.put(txnID, key, value, putUpsert)
}

func (t *BPlusTree) put(txnID uint64, key, value []byte, mode putMode) error {
	if err := t.checkEntry(key, value); err != nil {
		return err
	}

	t.env.latch.Lock()
	defer t.env.latch.Unlock()

	b := t.env.newBatch(t.cmp)
	defer b.release()

	leaf, path, err := t.findLeaf(b, key)
	if err != nil {
		return err
	}

	opType := types.OpInsert
	idx := lowerBound(leaf.keys, key, t.cmp)
	exists := idx < len(leaf.keys) && t.cmp(leaf.keys[idx], key) == 0
	switch {
	case exists && mode == putInsert && !t.dupOK:
		return fmt.Errorf("%w: index %s", types.ErrDuplicateKey, t.name)
	case exists:
		leaf.values[idx] = cloneBytes(value)
		opType = types.OpUpdate
	case mode == putUpdate:
		return fmt.Errorf("%w: index %s", types.ErrKeyNotFound, t.name)
	default:
		leaf.keys = insert(leaf.keys, idx, cloneBytes(key))
		leaf.values = insert(leaf.values, idx, cloneBytes(value))
	}
	b.markDirty(leaf.pageID)

	if len(leaf.keys) > t.maxKeys {
		if err := t.splitLeaf(b, leaf, path); err != nil {
			return fmt.Errorf("insert: split failed: %w", err)
		}
	}
	return b.commit(txnID, &types.Operation{Type: opType, Index: t.name, Key: cloneBytes(key)})
}
