package loom

// LockMode names the row locking requested for a select.
type LockMode string

// Lock modes.
const (
	LockNone                    LockMode = ""
	LockOptimistic              LockMode = "optimistic"
	LockPessimisticRead         LockMode = "pessimistic_read"
	LockPessimisticWrite        LockMode = "pessimistic_write"
	LockDirtyRead               LockMode = "dirty_read"
	LockPessimisticPartialWrite LockMode = "pessimistic_partial_write"
	LockPessimisticWriteOrFail  LockMode = "pessimistic_write_or_fail"
	LockForNoKeyUpdate          LockMode = "for_no_key_update"
)

// Pessimistic reports whether the mode locks rows at query time and
// therefore needs an active transaction.
func (m LockMode) Pessimistic() bool {
	switch m {
	case LockPessimisticRead, LockPessimisticWrite, LockPessimisticPartialWrite,
		LockPessimisticWriteOrFail, LockForNoKeyUpdate:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (m LockMode) String() string {
	if m == LockNone {
		return "none"
	}
	return string(m)
}
