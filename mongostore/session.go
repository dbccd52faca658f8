package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/jacentio/lattice/store"
)

// session is one MongoDB multi-document transaction.
type session struct {
	id    string
	store *Store
	ms    mongo.Session

	mu     sync.Mutex
	closed bool
}

func (tx *session) ID() string { return tx.id }

// Commit commits the transaction and ends the server session.
func (tx *session) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return store.ErrSessionClosed
	}
	tx.closed = true
	defer tx.ms.EndSession(context.WithoutCancel(ctx))

	return mapError(tx.ms.CommitTransaction(ctx))
}

// Abort aborts the transaction and ends the server session. Aborting a
// closed session is a no-op.
func (tx *session) Abort(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.closed {
		return nil
	}
	tx.closed = true
	defer tx.ms.EndSession(context.WithoutCancel(ctx))

	return tx.ms.AbortTransaction(ctx)
}

// bind returns ctx carrying the transaction, so driver calls made with it
// run inside the session.
func (tx *session) bind(ctx context.Context) (context.Context, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return nil, store.ErrSessionClosed
	}
	return mongo.NewSessionContext(ctx, tx.ms), nil
}

// transientLabel marks errors MongoDB expects the whole transaction to be
// retried for, write conflicts among them.
const transientLabel = "TransientTransactionError"

// mapError maps driver errors to store errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", store.ErrAlreadyExists, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel(transientLabel) {
		return fmt.Errorf("%w: %w", store.ErrConcurrentModification, err)
	}
	return err
}
