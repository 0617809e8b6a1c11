package bplus

// insertIntoParent links right into the parent of left with separator between
// them, splitting the parent if it overflows.
func (t *BPlusTree) insertIntoParent(b *batch, left *Node, separator []byte, right *Node, path []pathStep) error {
	if len(path) == 0 {
		return t.newRoot(b, left, separator, right)
	}

	step := path[len(path)-1]
	parent := step.node
	parent.keys = insert(parent.keys, step.childIdx, separator)
	parent.children = insert(parent.children, step.childIdx+1, right.pageID)
	b.markDirty(parent.pageID)

	if len(parent.keys) > t.maxKeys {
		return t.splitInternal(b, parent, path[:len(path)-1])
	}
	return nil
}
