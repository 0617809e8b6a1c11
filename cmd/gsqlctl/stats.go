package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	storageengine "GSQLCore/storage_engine"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show page file, buffer pool and WAL counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(se *storageengine.StorageEngine) error {
			st, err := se.Stats()
			if err != nil {
				return err
			}
			indexes, err := se.Indexes()
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Stat", "Value"})
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.AppendBulk([][]string{
				{"backend", se.Config().Backend},
				{"page size", humanize.IBytes(uint64(st.PageSize))},
				{"pages", humanize.Comma(st.Pages)},
				{"page file", humanize.IBytes(uint64(st.FileBytes))},
				{"indexes", strconv.Itoa(len(indexes))},
				{"buffer pool", fmt.Sprintf("%d/%d resident, %d dirty", st.BufferPool.TotalPages, st.BufferPool.Capacity, st.BufferPool.DirtyPages)},
				{"pool hit rate", fmt.Sprintf("%.1f%% (%s hits, %s misses)", st.BufferPool.HitRate*100,
					humanize.Comma(int64(st.BufferPool.Hits)), humanize.Comma(int64(st.BufferPool.Misses)))},
				{"evictions", humanize.Comma(int64(st.BufferPool.Evictions))},
				{"WAL", humanize.IBytes(uint64(st.WALBytes))},
				{"current LSN", strconv.FormatUint(st.CurrentLSN, 10)},
				{"flushed LSN", strconv.FormatUint(st.FlushedLSN, 10)},
				{"checkpoint LSN", strconv.FormatUint(st.CheckpointLSN, 10)},
			})
			table.Render()
			return nil
		})
	},
}
