package executor

import (
	"time"

	storageengine "GSQLCore/storage_engine"
)

type OpCode byte

const (
	// catalog
	OP_CREATE_INDEX OpCode = iota
	OP_SHOW_INDEXES
	OP_CHECK
	OP_SHOW_TRANSACTIONS
	OP_SHOW_LOCKS

	// entries
	OP_GET
	OP_INSERT
	OP_UPDATE
	OP_PUT
	OP_DELETE
	OP_SCAN
	OP_COUNT
)

func (op OpCode) String() string {
	switch op {
	case OP_CREATE_INDEX:
		return "CREATE INDEX"
	case OP_SHOW_INDEXES:
		return "SHOW INDEXES"
	case OP_CHECK:
		return "CHECK"
	case OP_SHOW_TRANSACTIONS:
		return "SHOW TRANSACTIONS"
	case OP_SHOW_LOCKS:
		return "SHOW LOCKS"
	case OP_GET:
		return "GET"
	case OP_INSERT:
		return "INSERT"
	case OP_UPDATE:
		return "UPDATE"
	case OP_PUT:
		return "PUT"
	case OP_DELETE:
		return "DELETE"
	case OP_SCAN:
		return "SCAN"
	case OP_COUNT:
		return "COUNT"
	default:
		return "UNKNOWN"
	}
}

// Instruction is one step of a statement plan. Low/High bound OP_SCAN and
// OP_COUNT; nil is open.
type Instruction struct {
	Op    OpCode
	Index string
	Key   []byte
	Value []byte
	Low   []byte
	High  []byte

	// OP_CREATE_INDEX
	MaxDegree       int
	AllowDuplicates bool
}

// Plan is a statement: its instructions run under one transaction and the
// result of the last one that produces rows is returned.
type Plan []Instruction

type Row []string

// Result is what a statement returns. On failure Success is false and
// ErrorKind names the error kind (see types.KindOf).
type Result struct {
	Success       bool
	Rows          []Row
	Columns       []string
	Count         int
	ExecutionTime time.Duration
	ErrorKind     string
	Error         error
}

type VM struct {
	storageEngine *storageengine.StorageEngine

	// session transaction of the command interface
	currentTxn uint64
}
