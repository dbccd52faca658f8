package store

import (
	"context"
	"fmt"
)

// withSession runs fn inside sess when the caller supplied one, borrowing it
// without committing or aborting. Otherwise it opens a session, commits it
// when fn succeeds and aborts it on every other exit: an error, a cancelled
// context, or a panic.
func (s *Service) withSession(ctx context.Context, sess Session, fn func(ctx context.Context, sess Session) error) (err error) {
	if sess != nil {
		return fn(ctx, sess)
	}

	owned, err := s.adapter.OpenSession(ctx)
	if err != nil {
		return wrapStore("open session", s.name, err)
	}

	done := false
	defer func() {
		if done {
			return
		}
		// The caller's context may already be cancelled; the abort must still reach the store.
		abortCtx := context.WithoutCancel(ctx)
		if abortErr := owned.Abort(abortCtx); abortErr != nil {
			s.logger.Error("failed to abort session",
				"entity", s.name,
				"session", owned.ID(),
				"error", abortErr,
			)
		} else {
			s.logger.Debug("session aborted", "entity", s.name, "session", owned.ID())
		}
	}()

	if err := fn(ctx, owned); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("lattice: %s: %w", s.name, err)
	}
	if err := owned.Commit(ctx); err != nil {
		return wrapStore("commit", s.name, err)
	}
	done = true
	s.logger.Debug("session committed", "entity", s.name, "session", owned.ID())
	return nil
}
