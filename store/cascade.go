package store

import (
	"context"
)

// beforeDelete runs the delete rules for ids inside sess: every deny rule,
// then every pre rule. The first failure stops the chain.
func (s *Service) beforeDelete(ctx context.Context, ids []ID, sess Session) error {
	if len(ids) == 0 {
		return nil
	}

	// 1. Deny rules may veto before any side effect.
	s.traceDelete(stateRunningDenyRules, sess)
	for _, rule := range s.registry.DeleteRules(Deny) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rule.Handler(ctx, s, sess, ids); err != nil {
			s.logger.Info("delete denied",
				"entity", s.name,
				"rule", rule.Name,
				"session", sessionID(sess),
				"ids", len(ids),
				"error", err,
			)
			return &DeleteError{Entity: s.name, Rule: rule.Name, Kind: DeleteDenied, Err: err}
		}
	}

	// 2. Pre rules cascade within the same session.
	s.traceDelete(stateRunningPreRules, sess)
	return s.runPreRules(ctx, ids, sess)
}

// runPreRules runs every pre rule for ids in registry order.
func (s *Service) runPreRules(ctx context.Context, ids []ID, sess Session) error {
	for _, rule := range s.registry.DeleteRules(Pre) {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.logger.Debug("running pre delete rule",
			"entity", s.name,
			"rule", rule.Name,
			"session", sessionID(sess),
			"ids", len(ids),
		)
		if err := rule.Handler(ctx, s, sess, ids); err != nil {
			s.logger.Warn("cascade step failed",
				"entity", s.name,
				"rule", rule.Name,
				"session", sessionID(sess),
				"error", err,
			)
			return &DeleteError{Entity: s.name, Rule: rule.Name, Kind: CascadeFailed, Err: err}
		}
	}
	return nil
}

func sessionID(sess Session) string {
	if sess == nil {
		return ""
	}
	return sess.ID()
}
