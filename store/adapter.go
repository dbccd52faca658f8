package store

import (
	"context"
	"iter"
)

// Adapter is the document database the service drives. Every method taking a
// Session runs inside it when sess is non-nil. Implementations must be safe
// for concurrent use.
type Adapter interface {
	// OpenSession starts a new transactional unit of work.
	OpenSession(ctx context.Context) (Session, error)

	// InsertOne stores doc, which carries its IDField, and returns that id.
	InsertOne(ctx context.Context, collection string, doc Document, sess Session) (ID, error)

	// Find returns a lazy sequence of matching documents. The query is issued
	// when iteration starts, so the sequence can be ranged over again.
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions, sess Session) iter.Seq2[Document, error]

	// UpdateMany applies upd to every matching document.
	UpdateMany(ctx context.Context, collection string, filter Filter, upd Update, sess Session) (UpdateResult, error)

	// DeleteMany removes every matching document.
	DeleteMany(ctx context.Context, collection string, filter Filter, sess Session) (DeleteResult, error)

	// Count returns the number of matching documents.
	Count(ctx context.Context, collection string, filter Filter, sess Session) (int64, error)
}

// Session is one transactional unit of work. Only the call that opened a
// session commits or aborts it; nested calls borrow it.
type Session interface {
	// ID is a correlation id for logs.
	ID() string

	// Commit makes the session's writes visible. The session is closed afterwards.
	Commit(ctx context.Context) error

	// Abort discards the session's writes. The session is closed afterwards.
	// Aborting a closed session is a no-op.
	Abort(ctx context.Context) error
}
