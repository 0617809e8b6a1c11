package bplus

// newRoot grows the tree by one level above a split root.
func (t *BPlusTree) newRoot(b *batch, left *Node, separator []byte, right *Node) error {
	root, err := b.allocNode(false)
	if err != nil {
		return err
	}
	root.keys = append(root.keys, separator)
	root.children = append(root.children, left.pageID, right.pageID)
	b.markDirty(root.pageID)
	return t.setRoot(b, root.pageID)
}
