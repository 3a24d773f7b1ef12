package economy

import (
	"context"
	"sync"
	"time"
)

// memEntry mirrors an xp_entries row for inspection in tests.
type memEntry struct {
	UserID    string
	Delta     int
	Reason    string
	CreatedAt time.Time
}

// MemoryLedger is a development/test implementation used when no DB is
// configured.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int
	entries  []memEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]int)}
}

// Seed sets a starting balance; test helper.
func (m *MemoryLedger) Seed(userID string, balance int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = balance
}

func (m *MemoryLedger) Debit(_ context.Context, userID string, amount int, reason string) error {
	if amount <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[userID] < amount {
		return ErrInsufficientBalance
	}
	m.balances[userID] -= amount
	m.entries = append(m.entries, memEntry{UserID: userID, Delta: -amount, Reason: reason, CreatedAt: time.Now()})
	return nil
}

func (m *MemoryLedger) Credit(_ context.Context, userID string, amount int, reason string) error {
	if amount <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	m.entries = append(m.entries, memEntry{UserID: userID, Delta: amount, Reason: reason, CreatedAt: time.Now()})
	return nil
}

func (m *MemoryLedger) Balance(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

// EntryCount returns how many ledger rows carry the given reason.
func (m *MemoryLedger) EntryCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Reason == reason {
			n++
		}
	}
	return n
}
