package repo

import (
	"context"
	"sync"

	"github.com/aq2208/gorder-fulfillment/internal/usecase"
)

type journalKey struct{}

// journal collects undo steps registered by memory repos during WithinTx,
// plus the ledger pair locks the unit has taken. Pair locks stay held until
// the unit commits or its undo steps have run.
type journal struct {
	mu   sync.Mutex
	undo []func()
	held map[*sync.Mutex]struct{}
	// order of acquisition, released in reverse
	locks []*sync.Mutex
}

func (j *journal) add(f func()) {
	j.mu.Lock()
	j.undo = append(j.undo, f)
	j.mu.Unlock()
}

func (j *journal) rollback() {
	j.mu.Lock()
	steps := j.undo
	j.undo = nil
	j.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

// hold locks m for the rest of the unit. A mutex the unit already holds is
// not locked again.
func (j *journal) hold(m *sync.Mutex) {
	j.mu.Lock()
	_, ok := j.held[m]
	j.mu.Unlock()
	if ok {
		return
	}
	m.Lock()
	j.mu.Lock()
	if j.held == nil {
		j.held = make(map[*sync.Mutex]struct{})
	}
	j.held[m] = struct{}{}
	j.locks = append(j.locks, m)
	j.mu.Unlock()
}

func (j *journal) release() {
	j.mu.Lock()
	locks := j.locks
	j.locks, j.held = nil, nil
	j.mu.Unlock()
	for i := len(locks) - 1; i >= 0; i-- {
		locks[i].Unlock()
	}
}

// MemoryTxManager gives the memory repos all-or-nothing writes: when fn
// fails, every write made through its context is undone in reverse order.
// Ledger pairs touched by the unit stay locked until it ends, so no other
// goroutine observes a ledger write that may still be undone. Order and
// proof writes are visible before the unit completes.
type MemoryTxManager struct{}

func NewMemoryTxManager() *MemoryTxManager { return &MemoryTxManager{} }

func (m *MemoryTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}
	j := &journal{}
	defer j.release()
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}

// onRollback registers f to run if the enclosing unit of work fails. Outside
// a unit it does nothing.
func onRollback(ctx context.Context, f func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.add(f)
	}
}

// lockFor locks m for the caller. Inside a unit of work the lock is handed
// to the unit and the returned func does nothing; outside it unlocks m.
func lockFor(ctx context.Context, m *sync.Mutex) (unlock func()) {
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.hold(m)
		return func() {}
	}
	m.Lock()
	return m.Unlock
}

var _ usecase.TxManager = (*MemoryTxManager)(nil)
