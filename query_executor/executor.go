package executor

/*
The executor turns statement plans into calls on the storage engine.

	Execute(plan, tid)      runs under tid, or in its own DEFERRED transaction when tid is 0
	BeginTransaction etc.   the native transaction-id API
	ExecuteCommand(text)    text commands over a session transaction (command.go)

Every outcome is a Result; errors never escape as panics.
*/

import (
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	storageengine "GSQLCore/storage_engine"
	bplus "GSQLCore/storage_engine/access/indexfile_manager/bplustree"
	"GSQLCore/types"
)

func NewVM(se *storageengine.StorageEngine) *VM {
	return &VM{storageEngine: se}
}

func (vm *VM) StorageEngine() *storageengine.StorageEngine {
	return vm.storageEngine
}

// Execute runs plan under tid. With tid 0 the plan autocommits.
func (vm *VM) Execute(ctx context.Context, plan Plan, tid uint64) *Result {
	start := time.Now()
	var res *Result
	var err error
	if tid == 0 {
		res, err = vm.autoCommit(ctx, plan)
	} else {
		res, err = vm.run(ctx, plan, tid)
	}
	if err != nil {
		res = failure(err)
	}
	res.ExecutionTime = time.Since(start)
	return res
}

func failure(err error) *Result {
	return &Result{Success: false, ErrorKind: types.KindOf(err), Error: err}
}

func (vm *VM) run(ctx context.Context, plan Plan, tid uint64) (*Result, error) {
	if len(plan) == 0 {
		return nil, fmt.Errorf("empty plan")
	}
	res := &Result{Success: true}
	for _, instr := range plan {
		if err := vm.step(ctx, instr, tid, res); err != nil {
			log.WithError(err).WithFields(log.Fields{"txn": tid, "op": instr.Op.String(), "index": instr.Index}).
				Debug("statement failed")
			return nil, err
		}
	}
	return res, nil
}

func (vm *VM) step(ctx context.Context, instr Instruction, tid uint64, res *Result) error {
	se := vm.storageEngine

	switch instr.Op {
	case OP_CREATE_INDEX:
		opts := bplus.Options{MaxDegree: instr.MaxDegree, AllowDuplicates: instr.AllowDuplicates}
		if err := se.CreateIndex(ctx, instr.Index, opts); err != nil {
			return err
		}
		res.Count = 1

	case OP_SHOW_INDEXES:
		infos, err := se.Indexes()
		if err != nil {
			return err
		}
		res.Columns = []string{"name", "root", "max_degree", "duplicates", "height"}
		res.Rows = res.Rows[:0]
		for _, info := range infos {
			res.Rows = append(res.Rows, Row{
				info.Name,
				strconv.FormatInt(info.Root, 10),
				strconv.Itoa(info.MaxDegree),
				strconv.FormatBool(info.AllowDuplicates),
				strconv.Itoa(info.Height),
			})
		}
		res.Count = len(res.Rows)

	case OP_CHECK:
		stats, err := se.CheckIntegrity(instr.Index)
		if err != nil {
			return err
		}
		res.Columns = []string{"index", "height", "keys", "leaves", "internal"}
		res.Rows = res.Rows[:0]
		for _, name := range sortedNames(stats) {
			st := stats[name]
			res.Rows = append(res.Rows, Row{
				name,
				strconv.Itoa(st.Height),
				strconv.Itoa(st.Keys),
				strconv.Itoa(st.LeafNodes),
				strconv.Itoa(st.InternalNodes),
			})
		}
		res.Count = len(res.Rows)

	case OP_SHOW_TRANSACTIONS:
		res.Columns = []string{"tid", "isolation", "state", "age", "records", "dirty_pages", "savepoints"}
		res.Rows = res.Rows[:0]
		for _, info := range se.ActiveTransactions() {
			res.Rows = append(res.Rows, Row{
				strconv.FormatUint(info.ID, 10),
				info.Isolation.String(),
				info.State.String(),
				info.Age.Round(time.Millisecond).String(),
				strconv.Itoa(info.Records),
				strconv.Itoa(info.DirtyPages),
				strconv.Itoa(info.Savepoints),
			})
		}
		res.Count = len(res.Rows)

	case OP_SHOW_LOCKS:
		res.Columns = []string{"tid", "resource", "level"}
		res.Rows = res.Rows[:0]
		for _, lk := range se.Locks() {
			res.Rows = append(res.Rows, Row{
				strconv.FormatUint(lk.TxnID, 10),
				lk.Resource.String(),
				lk.Level.String(),
			})
		}
		res.Count = len(res.Rows)

	case OP_GET:
		value, found, err := se.Get(ctx, tid, instr.Index, instr.Key)
		if err != nil {
			return err
		}
		res.Columns = []string{"key", "value"}
		res.Rows = res.Rows[:0]
		if found {
			res.Rows = append(res.Rows, Row{formatBytes(instr.Key), formatBytes(value)})
		}
		res.Count = len(res.Rows)

	case OP_INSERT:
		if err := se.Insert(ctx, tid, instr.Index, instr.Key, instr.Value); err != nil {
			return err
		}
		res.Count++

	case OP_UPDATE:
		if err := se.Update(ctx, tid, instr.Index, instr.Key, instr.Value); err != nil {
			return err
		}
		res.Count++

	case OP_PUT:
		if err := se.Put(ctx, tid, instr.Index, instr.Key, instr.Value); err != nil {
			return err
		}
		res.Count++

	case OP_DELETE:
		if err := se.Delete(ctx, tid, instr.Index, instr.Key); err != nil {
			return err
		}
		res.Count++

	case OP_SCAN:
		entries, err := se.Scan(ctx, tid, instr.Index, instr.Low, instr.High)
		if err != nil {
			return err
		}
		res.Columns = []string{"key", "value"}
		res.Rows = make([]Row, 0, len(entries))
		for _, e := range entries {
			res.Rows = append(res.Rows, Row{formatBytes(e.Key), formatBytes(e.Value)})
		}
		res.Count = len(res.Rows)

	case OP_COUNT:
		sc, err := se.OpenScan(ctx, tid, instr.Index, instr.Low, instr.High)
		if err != nil {
			return err
		}
		n := 0
		for sc.Next() {
			n++
		}
		sc.Close()
		if err := sc.Err(); err != nil {
			return err
		}
		res.Columns = []string{"count"}
		res.Rows = []Row{{strconv.Itoa(n)}}
		res.Count = n

	default:
		return fmt.Errorf("unknown opcode %d", instr.Op)
	}
	return nil
}
