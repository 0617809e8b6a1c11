package main

import (
	"bufio"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	executor "GSQLCore/query_executor"
	storageengine "GSQLCore/storage_engine"
)

var stopOnError bool

var execCmd = &cobra.Command{
	Use:   "exec [command]...",
	Short: "Run commands (BEGIN, PUT, SCAN, ...) against the store; reads stdin when none are given",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withStore(func(se *storageengine.StorageEngine) error {
			vm := executor.NewVM(se)
			run := func(text string) bool {
				if strings.TrimSpace(text) == "" {
					return true
				}
				res := vm.ExecuteCommand(ctx, text)
				res.Render(os.Stdout)
				return res.Success || !stopOnError
			}

			if len(args) > 0 {
				for _, text := range args {
					if !run(text) {
						break
					}
				}
			} else {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					if !run(scanner.Text()) {
						break
					}
				}
				if err := scanner.Err(); err != nil {
					return err
				}
			}

			if tid := vm.CurrentTransaction(); tid != 0 {
				log.WithField("txn", tid).Warn("transaction left open, rolling back")
				return vm.RollbackTransaction(tid)
			}
			return nil
		})
	},
}

func init() {
	execCmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "stop at the first failing command")
}
