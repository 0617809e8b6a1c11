package storageengine

import (
	"bytes"
	"context"
	"fmt"

	bplus "GSQLCore/storage_engine/access/indexfile_manager/bplustree"
	diskmanager "GSQLCore/storage_engine/disk_manager"
	"GSQLCore/storage_engine/page"
	"GSQLCore/types"
)

// PageInfo describes one page of the page file.
type PageInfo struct {
	PageID  int64
	Type    types.PageType
	LSN     uint64
	Keys    int   // tree pages
	Next    int64 // leaves and free pages
	Problem string
}

// InspectPages checkpoints the store and decodes every page of the page
// file. Damaged pages are reported in Problem rather than failing the walk.
func (se *StorageEngine) InspectPages(ctx context.Context) ([]PageInfo, error) {
	if err := se.Checkpoint(ctx); err != nil {
		return nil, err
	}

	n := se.DiskManager.NumPages()
	infos := make([]PageInfo, 0, n)
	for id := int64(0); id < n; id++ {
		data, err := se.DiskManager.ReadPage(id)
		if err != nil {
			return nil, err
		}
		info := PageInfo{PageID: id, Type: page.TypeOf(data), LSN: page.LSNOf(data)}
		if err := page.Verify(data); err != nil {
			info.Problem = err.Error()
			infos = append(infos, info)
			continue
		}

		switch info.Type {
		case types.PageTypeMeta:
			if _, err := diskmanager.DecodeMeta(data); err != nil {
				info.Problem = err.Error()
			}
		case types.PageTypeBTreeLeaf, types.PageTypeBTreeInternal:
			node, err := bplus.DeserializeNode(id, data, bytes.Compare)
			if err != nil {
				info.Problem = err.Error()
				break
			}
			info.Keys = node.NumKeys()
			if node.IsLeaf() {
				info.Next = node.Next()
			}
		case types.PageTypeFree:
			if diskmanager.IsFreePage(data) {
				next, err := diskmanager.FreePageNext(data)
				if err != nil {
					info.Problem = err.Error()
				}
				info.Next = next
			}
		default:
			info.Problem = fmt.Sprintf("unexpected page type %d", info.Type)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
