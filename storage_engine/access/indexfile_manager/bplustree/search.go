package bplus

// Search returns a copy of the value stored under key. The boolean is false
// when the key is absent.
func (t *BPlusTree) Search(key []byte) ([]byte, bool, error) {
	t.env.latch.RLock()
	defer t.env.latch.RUnlock()

	leaf, err := t.descend(key)
	if err != nil {
		return nil, false, err
	}
	idx := binarySearch(leaf.keys, key, t.cmp)
	if idx < 0 {
		return nil, false, nil
	}
	// decoded values are private copies
	return leaf.values[idx], true, nil
}
