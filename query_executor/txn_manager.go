package executor

import (
	"context"

	txn "GSQLCore/storage_engine/transaction_manager"
)

// BeginTransaction starts a transaction with the named isolation mode
// (DEFERRED when empty) and returns its id.
func (vm *VM) BeginTransaction(ctx context.Context, isolation string) (uint64, error) {
	iso, err := txn.ParseIsolation(isolation)
	if err != nil {
		return 0, err
	}
	return vm.storageEngine.Begin(ctx, iso)
}

func (vm *VM) CommitTransaction(tid uint64) error {
	return vm.storageEngine.Commit(tid)
}

func (vm *VM) RollbackTransaction(tid uint64) error {
	return vm.storageEngine.Rollback(tid)
}

// CurrentTransaction is the session transaction opened by BEGIN, 0 if none.
func (vm *VM) CurrentTransaction() uint64 {
	return vm.currentTxn
}
