package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	storageengine "GSQLCore/storage_engine"
)

var checkCmd = &cobra.Command{
	Use:   "check [index]",
	Short: "Validate the structure of one index or of all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return withStore(func(se *storageengine.StorageEngine) error {
			stats, err := se.CheckIntegrity(name)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(stats))
			for n := range stats {
				names = append(names, n)
			}
			sort.Strings(names)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Index", "Height", "Keys", "Leaves", "Internal"})
			for _, n := range names {
				st := stats[n]
				table.Append([]string{n, strconv.Itoa(st.Height), strconv.Itoa(st.Keys),
					strconv.Itoa(st.LeafNodes), strconv.Itoa(st.InternalNodes)})
			}
			table.Render()
			log.WithField("indexes", len(names)).Info("integrity check passed")
			fmt.Println("ok")
			return nil
		})
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Replay the WAL of the store and checkpoint it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Open recovers; Close checkpoints.
		return withStore(func(se *storageengine.StorageEngine) error {
			st, err := se.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("store %s recovered, checkpoint LSN %d\n", storeDir, st.CheckpointLSN)
			return nil
		})
	},
}
