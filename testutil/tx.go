package testutil

import (
	"context"
	"sync"
)

type memTxKey struct{}

type memTx struct {
	undo []func()
}

// Transactor is an in-memory transactor. Transactions are serialized and the
// fakes in this package register undo steps so a failed unit of work rolls back.
type Transactor struct {
	mu      sync.Mutex
	Commits int
	Aborts  int
}

func (t *Transactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		t.Aborts++
		return err
	}
	t.Commits++
	return nil
}

// InTx reports whether ctx carries an in-memory transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(memTxKey{}).(*memTx)
	return ok
}

// onRollback registers undo to run if the surrounding transaction fails.
func onRollback(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}
