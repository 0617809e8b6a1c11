package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

/*
Text commands over a session transaction. BEGIN opens the session
transaction; data commands then run under it until COMMIT or ROLLBACK.
Outside a session transaction every data command autocommits.

	BEGIN [DEFERRED|IMMEDIATE|EXCLUSIVE] [TRANSACTION]
	COMMIT [TRANSACTION]
	ROLLBACK [TRANSACTION] [TO [SAVEPOINT] name]
	SAVEPOINT name
	CHECKPOINT
	CREATE INDEX name [DEGREE n] [DUPLICATES]
	SHOW INDEXES|TRANSACTIONS|LOCKS
	CHECK [index]
	GET index key
	INSERT|UPDATE|PUT index key value
	DELETE index key
	SCAN|COUNT index [low|* [high|*]]

Keys and values are bare words or quoted strings.
*/

func (vm *VM) ExecuteCommand(ctx context.Context, text string) *Result {
	start := time.Now()
	res, err := vm.command(ctx, text)
	if err != nil {
		res = failure(err)
	}
	if res.ExecutionTime == 0 {
		res.ExecutionTime = time.Since(start)
	}
	if vm.currentTxn != 0 && !vm.storageEngine.TxnManager.IsActive(vm.currentTxn) {
		// rolled back after a fault
		vm.currentTxn = 0
	}
	return res
}

func (vm *VM) command(ctx context.Context, text string) (*Result, error) {
	words, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := strings.ToUpper(words[0])
	args := words[1:]

	switch cmd {
	case "BEGIN":
		return vm.cmdBegin(ctx, args)
	case "COMMIT", "END":
		if err := expectOptional(args, "TRANSACTION"); err != nil {
			return nil, err
		}
		tid, err := vm.session()
		if err != nil {
			return nil, err
		}
		if err := vm.CommitTransaction(tid); err != nil {
			return nil, err
		}
		vm.currentTxn = 0
		return &Result{Success: true}, nil
	case "ROLLBACK":
		return vm.cmdRollback(args)
	case "SAVEPOINT":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: SAVEPOINT name")
		}
		tid, err := vm.session()
		if err != nil {
			return nil, err
		}
		if err := vm.storageEngine.Savepoint(tid, args[0]); err != nil {
			return nil, err
		}
		return &Result{Success: true}, nil
	case "CHECKPOINT":
		if vm.currentTxn != 0 {
			return nil, fmt.Errorf("CHECKPOINT cannot run inside a transaction")
		}
		if err := vm.storageEngine.Checkpoint(ctx); err != nil {
			return nil, err
		}
		return &Result{Success: true}, nil
	}

	instr, err := parseInstruction(cmd, args)
	if err != nil {
		return nil, err
	}
	res := vm.Execute(ctx, Plan{instr}, vm.currentTxn)
	if !res.Success {
		return nil, res.Error
	}
	return res, nil
}

func (vm *VM) cmdBegin(ctx context.Context, args []string) (*Result, error) {
	if vm.currentTxn != 0 {
		return nil, fmt.Errorf("transaction %d is already open", vm.currentTxn)
	}
	mode := ""
	if len(args) > 0 && !strings.EqualFold(args[0], "TRANSACTION") {
		mode, args = args[0], args[1:]
	}
	if err := expectOptional(args, "TRANSACTION"); err != nil {
		return nil, err
	}
	tid, err := vm.BeginTransaction(ctx, mode)
	if err != nil {
		return nil, err
	}
	vm.currentTxn = tid
	return &Result{
		Success: true,
		Columns: []string{"tid"},
		Rows:    []Row{{strconv.FormatUint(tid, 10)}},
		Count:   1,
	}, nil
}

func (vm *VM) cmdRollback(args []string) (*Result, error) {
	if len(args) > 0 && strings.EqualFold(args[0], "TRANSACTION") {
		args = args[1:]
	}
	tid, err := vm.session()
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		if err := vm.RollbackTransaction(tid); err != nil {
			return nil, err
		}
		vm.currentTxn = 0
		return &Result{Success: true}, nil
	}

	if !strings.EqualFold(args[0], "TO") {
		return nil, fmt.Errorf("usage: ROLLBACK [TRANSACTION] [TO [SAVEPOINT] name]")
	}
	args = args[1:]
	if len(args) > 0 && strings.EqualFold(args[0], "SAVEPOINT") {
		args = args[1:]
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: ROLLBACK [TRANSACTION] TO [SAVEPOINT] name")
	}
	if err := vm.storageEngine.RollbackTo(tid, args[0]); err != nil {
		return nil, err
	}
	return &Result{Success: true}, nil
}

func (vm *VM) session() (uint64, error) {
	if vm.currentTxn == 0 {
		return 0, fmt.Errorf("no transaction is open")
	}
	return vm.currentTxn, nil
}

func parseInstruction(cmd string, args []string) (Instruction, error) {
	switch cmd {
	case "CREATE":
		if len(args) < 2 || !strings.EqualFold(args[0], "INDEX") {
			return Instruction{}, fmt.Errorf("usage: CREATE INDEX name [DEGREE n] [DUPLICATES]")
		}
		instr := Instruction{Op: OP_CREATE_INDEX, Index: args[1]}
		rest := args[2:]
		for len(rest) > 0 {
			switch strings.ToUpper(rest[0]) {
			case "DEGREE":
				if len(rest) < 2 {
					return Instruction{}, fmt.Errorf("DEGREE needs a value")
				}
				n, err := strconv.Atoi(rest[1])
				if err != nil {
					return Instruction{}, fmt.Errorf("invalid degree %q", rest[1])
				}
				instr.MaxDegree = n
				rest = rest[2:]
			case "DUPLICATES":
				instr.AllowDuplicates = true
				rest = rest[1:]
			default:
				return Instruction{}, fmt.Errorf("unexpected %q", rest[0])
			}
		}
		return instr, nil

	case "SHOW":
		if len(args) == 1 {
			switch strings.ToUpper(args[0]) {
			case "INDEXES":
				return Instruction{Op: OP_SHOW_INDEXES}, nil
			case "TRANSACTIONS":
				return Instruction{Op: OP_SHOW_TRANSACTIONS}, nil
			case "LOCKS":
				return Instruction{Op: OP_SHOW_LOCKS}, nil
			}
		}
		return Instruction{}, fmt.Errorf("usage: SHOW INDEXES|TRANSACTIONS|LOCKS")

	case "CHECK":
		if len(args) > 1 {
			return Instruction{}, fmt.Errorf("usage: CHECK [index]")
		}
		instr := Instruction{Op: OP_CHECK}
		if len(args) == 1 {
			instr.Index = args[0]
		}
		return instr, nil

	case "GET", "DELETE":
		if len(args) != 2 {
			return Instruction{}, fmt.Errorf("usage: %s index key", cmd)
		}
		op := OP_GET
		if cmd == "DELETE" {
			op = OP_DELETE
		}
		return Instruction{Op: op, Index: args[0], Key: []byte(args[1])}, nil

	case "INSERT", "UPDATE", "PUT":
		if len(args) != 3 {
			return Instruction{}, fmt.Errorf("usage: %s index key value", cmd)
		}
		op := map[string]OpCode{"INSERT": OP_INSERT, "UPDATE": OP_UPDATE, "PUT": OP_PUT}[cmd]
		return Instruction{Op: op, Index: args[0], Key: []byte(args[1]), Value: []byte(args[2])}, nil

	case "SCAN", "COUNT":
		if len(args) < 1 || len(args) > 3 {
			return Instruction{}, fmt.Errorf("usage: %s index [low [high]]", cmd)
		}
		op := OP_SCAN
		if cmd == "COUNT" {
			op = OP_COUNT
		}
		instr := Instruction{Op: op, Index: args[0]}
		if len(args) > 1 {
			instr.Low = bound(args[1])
		}
		if len(args) > 2 {
			instr.High = bound(args[2])
		}
		return instr, nil
	}
	return Instruction{}, fmt.Errorf("unknown command %q", cmd)
}

func bound(s string) []byte {
	if s == "*" {
		return nil
	}
	return []byte(s)
}

func expectOptional(args []string, word string) error {
	if len(args) == 0 || (len(args) == 1 && strings.EqualFold(args[0], word)) {
		return nil
	}
	return fmt.Errorf("unexpected %q", strings.Join(args, " "))
}

// tokenize splits text on blanks. Single or double quotes group a word and
// a doubled quote inside them stands for itself. A trailing ';' is dropped.
func tokenize(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, ";")

	var words []string
	var cur strings.Builder
	inWord := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case ch == '\'' || ch == '"':
			quote := ch
			inWord = true
			closed := false
			for i++; i < len(text); i++ {
				if text[i] == quote {
					if i+1 < len(text) && text[i+1] == quote {
						cur.WriteByte(quote)
						i++
						continue
					}
					closed = true
					break
				}
				cur.WriteByte(text[i])
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string")
			}
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteByte(ch)
			inWord = true
		}
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}
