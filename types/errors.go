package types

import "errors"

// Error kinds surfaced by the storage core. Callers match them with errors.Is.
var (
	ErrIOFault         = errors.New("io fault")
	ErrPoolExhausted   = errors.New("buffer pool exhausted")
	ErrIndexCorruption = errors.New("index corruption")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrKeyNotFound     = errors.New("key not found")
	ErrLockTimeout     = errors.New("lock timeout")
	ErrWALCorruption   = errors.New("wal corruption")

	ErrPageChecksum      = errors.New("page checksum mismatch")
	ErrEntryTooLarge     = errors.New("entry too large for page")
	ErrIndexNotFound     = errors.New("index not found")
	ErrIndexExists       = errors.New("index already exists")
	ErrTxnNotFound       = errors.New("transaction not found")
	ErrTxnNotActive      = errors.New("transaction not active")
	ErrSavepointNotFound = errors.New("savepoint not found")
	ErrStoreClosed       = errors.New("store is closed")
)

// KindOf names the error kind at the head of err's chain, "" for nil.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIOFault):
		return "IOFault"
	case errors.Is(err, ErrPoolExhausted):
		return "PoolExhausted"
	case errors.Is(err, ErrIndexCorruption), errors.Is(err, ErrPageChecksum):
		return "IndexCorruption"
	case errors.Is(err, ErrDuplicateKey):
		return "DuplicateKey"
	case errors.Is(err, ErrKeyNotFound):
		return "KeyNotFound"
	case errors.Is(err, ErrLockTimeout):
		return "LockTimeout"
	case errors.Is(err, ErrWALCorruption):
		return "WALCorruption"
	case errors.Is(err, ErrEntryTooLarge):
		return "EntryTooLarge"
	case errors.Is(err, ErrIndexNotFound):
		return "IndexNotFound"
	case errors.Is(err, ErrIndexExists):
		return "IndexExists"
	case errors.Is(err, ErrTxnNotFound), errors.Is(err, ErrTxnNotActive):
		return "TransactionState"
	case errors.Is(err, ErrSavepointNotFound):
		return "SavepointNotFound"
	case errors.Is(err, ErrStoreClosed):
		return "StoreClosed"
	default:
		return "Internal"
	}
}

// IsFatal reports whether err is a structural or device fault, the kind that
// forces a running transaction to roll back.
func IsFatal(err error) bool {
	return errors.Is(err, ErrIOFault) ||
		errors.Is(err, ErrIndexCorruption) ||
		errors.Is(err, ErrPageChecksum) ||
		errors.Is(err, ErrWALCorruption)
}
