package shared

import "sync"

// LedgerLock serialises mutations for the single-writer ledger. Every
// intake handler holds it for the whole begin → validate → commit →
// emit sequence; readers never take it.
type LedgerLock struct {
	mu sync.Mutex
}

// Acquire blocks until the lock is held.
func (l *LedgerLock) Acquire() {
	l.mu.Lock()
}

// Release frees the lock.
func (l *LedgerLock) Release() {
	l.mu.Unlock()
}

// Do runs fn while holding the lock.
func (l *LedgerLock) Do(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}
