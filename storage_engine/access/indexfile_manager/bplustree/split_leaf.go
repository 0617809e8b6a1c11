package bplus

// splitLeaf moves the upper half of an overfull leaf into a new right
// sibling and pushes a copy of the sibling's first key into the parent.
func (t *BPlusTree) splitLeaf(b *batch, leaf *Node, path []pathStep) error {
	right, err := b.allocNode(true)
	if err != nil {
		return err
	}

	mid := len(leaf.keys) / 2
	right.keys = append(right.keys, leaf.keys[mid:]...)
	right.values = append(right.values, leaf.values[mid:]...)
	leaf.keys = leaf.keys[:mid]
	leaf.values = leaf.values[:mid]

	right.next = leaf.next
	leaf.next = right.pageID

	b.markDirty(leaf.pageID)
	b.markDirty(right.pageID)

	separator := cloneBytes(right.keys[0])
	return t.insertIntoParent(b, leaf, separator, right, path)
}
