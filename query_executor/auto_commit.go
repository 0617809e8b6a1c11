package executor

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	txn "GSQLCore/storage_engine/transaction_manager"
	"GSQLCore/types"
)

// autoCommit runs plan in a DEFERRED transaction of its own: committed when
// every instruction succeeds, rolled back otherwise.
func (vm *VM) autoCommit(ctx context.Context, plan Plan) (*Result, error) {
	if catalogOnly(plan) {
		return vm.run(ctx, plan, 0)
	}

	tid, err := vm.storageEngine.Begin(ctx, txn.Deferred)
	if err != nil {
		return nil, err
	}
	res, err := vm.run(ctx, plan, tid)
	if err != nil {
		// a fault may already have rolled the transaction back
		if rbErr := vm.storageEngine.Rollback(tid); rbErr != nil && !errors.Is(rbErr, types.ErrTxnNotFound) {
			log.WithError(rbErr).WithField("txn", tid).Warn("auto-rollback failed")
		}
		return nil, err
	}
	if err := vm.storageEngine.Commit(tid); err != nil {
		return nil, err
	}
	return res, nil
}

// catalogOnly reports whether plan runs without a transaction: index
// creation, listing and integrity checks are store maintenance.
func catalogOnly(plan Plan) bool {
	for _, instr := range plan {
		switch instr.Op {
		case OP_CREATE_INDEX, OP_SHOW_INDEXES, OP_CHECK, OP_SHOW_TRANSACTIONS, OP_SHOW_LOCKS:
		default:
			return false
		}
	}
	return true
}
