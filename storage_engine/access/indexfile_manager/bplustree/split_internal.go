package bplus

// splitInternal splits an overfull internal node. The middle key moves up to
// the parent; it is kept in neither half.
func (t *BPlusTree) splitInternal(b *batch, node *Node, path []pathStep) error {
	right, err := b.allocNode(false)
	if err != nil {
		return err
	}

	mid := len(node.keys) / 2
	promoted := node.keys[mid]

	right.keys = append(right.keys, node.keys[mid+1:]...)
	right.children = append(right.children, node.children[mid+1:]...)
	node.keys = node.keys[:mid]
	node.children = node.children[:mid+1]

	b.markDirty(node.pageID)
	b.markDirty(right.pageID)

	return t.insertIntoParent(b, node, promoted, right, path)
}
