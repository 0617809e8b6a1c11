package indexfile

import (
	"fmt"
	"sort"

	bplus "GSQLCore/storage_engine/access/indexfile_manager/bplustree"
)

/*
This file is the main file for Index File Manager: the catalog of named B+
trees of a store. Every tree lives in the store's single page file and is
registered in page 0 (name, root page, fan-out, duplicate policy). Handles are
cached per name; they hold no page state, so a cached handle never goes stale.
*/

func NewIndexFileManager(env *bplus.Env) *IndexFileManager {
	return &IndexFileManager{
		env:     env,
		indexes: make(map[string]*bplus.BPlusTree),
	}
}

func (ifm *IndexFileManager) Env() *bplus.Env {
	return ifm.env
}

// CreateIndex registers a new empty tree. The creation is logged under txnID.
func (ifm *IndexFileManager) CreateIndex(txnID uint64, name string, opts bplus.Options) (*bplus.BPlusTree, error) {
	ifm.mu.Lock()
	defer ifm.mu.Unlock()

	tree, err := ifm.env.CreateTree(txnID, name, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create index '%s': %w", name, err)
	}
	ifm.indexes[name] = tree
	return tree, nil
}

// GetIndex returns the tree registered as name.
func (ifm *IndexFileManager) GetIndex(name string) (*bplus.BPlusTree, error) {
	ifm.mu.RLock()
	tree, exists := ifm.indexes[name]
	ifm.mu.RUnlock()
	if exists {
		return tree, nil
	}

	ifm.mu.Lock()
	defer ifm.mu.Unlock()
	if tree, exists := ifm.indexes[name]; exists {
		return tree, nil
	}
	tree, err := ifm.env.OpenTree(name)
	if err != nil {
		return nil, err
	}
	ifm.indexes[name] = tree
	return tree, nil
}

// Indexes lists the catalog sorted by name.
func (ifm *IndexFileManager) Indexes() ([]IndexInfo, error) {
	meta, err := ifm.env.Meta()
	if err != nil {
		return nil, err
	}
	out := make([]IndexInfo, 0, len(meta.Indexes))
	for _, e := range meta.Indexes {
		info := IndexInfo{
			Name:            e.Name,
			Root:            e.Root,
			MaxDegree:       e.MaxDegree,
			AllowDuplicates: e.AllowDuplicates,
		}
		tree, err := ifm.GetIndex(e.Name)
		if err != nil {
			return nil, err
		}
		if info.Height, err = tree.Height(); err != nil {
			return nil, fmt.Errorf("index '%s': %w", e.Name, err)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CheckIntegrity validates one index, or all of them when name is empty.
func (ifm *IndexFileManager) CheckIntegrity(name string) (map[string]bplus.Stats, error) {
	names := []string{name}
	if name == "" {
		infos, err := ifm.env.Meta()
		if err != nil {
			return nil, err
		}
		names = names[:0]
		for _, e := range infos.Indexes {
			names = append(names, e.Name)
		}
	}

	out := make(map[string]bplus.Stats, len(names))
	for _, n := range names {
		tree, err := ifm.GetIndex(n)
		if err != nil {
			return out, err
		}
		stats, err := tree.CheckIntegrity()
		if err != nil {
			return out, err
		}
		out[n] = stats
	}
	return out, nil
}

// ReleasePages puts pages on the free list under txnID and reports how many
// of them made it.
func (ifm *IndexFileManager) ReleasePages(txnID uint64, pageIDs []int64) (int, error) {
	return ifm.env.ReleasePages(txnID, pageIDs)
}
