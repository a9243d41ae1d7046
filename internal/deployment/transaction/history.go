package transaction

import (
	"slices"
	"sync"
)

// DefaultHistorySize is the number of transactions kept when no size is configured.
const DefaultHistorySize = 20

// History keeps the most recent transactions, oldest first.
type History struct {
	mu           sync.RWMutex
	transactions []*Transaction
	max          int
}

// NewHistory returns a History holding at most size transactions.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{
		transactions: make([]*Transaction, 0, size),
		max:          size,
	}
}

// Add appends tx, dropping the oldest entries beyond the limit.
func (h *History) Add(tx *Transaction) {
	if tx == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transactions = append(h.transactions, tx)
	if over := len(h.transactions) - h.max; over > 0 {
		h.transactions = slices.Delete(h.transactions, 0, over)
	}
}

// GetAll returns a copy of the stored transactions.
func (h *History) GetAll() []*Transaction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.transactions)
}

// GetByID returns the transaction with id, or nil.
func (h *History) GetByID(id string) *Transaction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, tx := range h.transactions {
		if tx.ID.String() == id {
			return tx
		}
	}
	return nil
}

// Latest returns the newest transaction, or nil.
func (h *History) Latest() *Transaction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.transactions) == 0 {
		return nil
	}
	return h.transactions[len(h.transactions)-1]
}
