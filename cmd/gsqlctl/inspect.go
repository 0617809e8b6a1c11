package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	storageengine "GSQLCore/storage_engine"
)

var problemsOnly bool

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Checkpoint the store and list every page of the page file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(se *storageengine.StorageEngine) error {
			pages, err := se.InspectPages(cmd.Context())
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Page", "Type", "LSN", "Keys", "Next", "Problem"})
			bad := 0
			for _, p := range pages {
				if p.Problem != "" {
					bad++
				} else if problemsOnly {
					continue
				}
				table.Append([]string{
					strconv.FormatInt(p.PageID, 10),
					p.Type.String(),
					strconv.FormatUint(p.LSN, 10),
					strconv.Itoa(p.Keys),
					strconv.FormatInt(p.Next, 10),
					p.Problem,
				})
			}
			table.Render()
			if bad > 0 {
				return fmt.Errorf("%d damaged page(s)", bad)
			}
			return nil
		})
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&problemsOnly, "problems", false, "only list damaged pages")
}
