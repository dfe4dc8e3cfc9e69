package service

import (
	"context"
	"strings"

	accessdomain "github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/case/domain"
	"github.com/integrity-line/platform/internal/notification"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/metrics"
	"github.com/integrity-line/platform/internal/shared/types"
	"go.uber.org/zap"
)

// TransitionRequest asks to move a case to another state. Resolution may
// accompany a move into RESOLVED or CLOSED and is recorded in the same
// transaction.
type TransitionRequest struct {
	CaseID     types.ID
	To         domain.State
	Actor      domain.Actor
	Reason     string
	Resolution *domain.ResolutionInput
}

// transitioned describes a committed state change.
type transitioned struct {
	c        domain.Case
	from     domain.State
	to       domain.State
	reporter bool
}

// Transition moves a case along one edge of the state graph. Inside one
// transaction it locks the case, checks the edge, the actor's permission
// and the resolution guard, updates the state and appends exactly one
// history entry. Any failure leaves state and history untouched.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*domain.Case, error) {
	to, ok := domain.ParseState(string(req.To))
	if !ok {
		return nil, errors.Validation("unknown target state", map[string]string{"to": string(req.To)})
	}

	perms := accessdomain.NewPermissionSet()
	if !req.Actor.System {
		v, err := s.viewer(ctx, req.Actor.PrincipalID)
		if err != nil {
			return nil, err
		}
		perms = v.Permissions
	}

	var done *transitioned
	err := s.store.WithinTx(ctx, func(tx domain.Tx) error {
		c, err := tx.LockCase(ctx, req.CaseID)
		if err != nil {
			return err
		}
		if done, err = s.applyTransition(ctx, tx, c, to, req.Actor, perms, req.Reason, req.Resolution); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		s.rejected(err, req.CaseID, to)
		return nil, err
	}

	s.afterTransition(ctx, done)
	view := done.c.ViewFor(perms.Contains(accessdomain.PermCaseReporterIdentity))
	return &view, nil
}

// applyTransition performs the checks and writes of one transition on a
// locked case. It is shared by staff transitions and the automatic return
// to work after reporter input.
func (s *Service) applyTransition(
	ctx context.Context,
	tx domain.Tx,
	c *domain.Case,
	to domain.State,
	actor domain.Actor,
	perms accessdomain.PermissionSet,
	reason string,
	res *domain.ResolutionInput,
) (*transitioned, error) {
	from := c.State
	if err := domain.CanTransition(from, to); err != nil {
		return nil, err
	}

	if actor.System {
		if !domain.SystemMayTransition(from, to) {
			return nil, errors.Forbidden("")
		}
	} else {
		perm, _ := domain.RequiredPermission(to)
		if !perms.Contains(perm) {
			return nil, errors.Forbidden(string(perm))
		}
	}

	now := s.now()
	if res != nil {
		if to != domain.StateResolved && to != domain.StateClosed {
			return nil, errors.Validation("a resolution can only accompany a resolving or closing transition",
				map[string]string{"resolution": "not allowed for " + string(to)})
		}
		if actor.System || !perms.Contains(accessdomain.PermResolutionRecord) {
			return nil, errors.Forbidden(string(accessdomain.PermResolutionRecord))
		}
		if err := s.recordResolution(ctx, tx, c.ID, *res, actor.PrincipalID); err != nil {
			return nil, err
		}
	}

	if domain.RequiresResolution(to) {
		has, err := tx.HasResolution(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, errors.MissingResolutionDocument(c.Number.String())
		}
	}

	c.State = to
	c.UpdatedAt = now
	if err := tx.UpdateCase(ctx, c); err != nil {
		return nil, err
	}

	err := tx.AppendHistory(ctx, domain.HistoryEntry{
		ID:        types.NewID(),
		CaseID:    c.ID,
		FromState: &from,
		ToState:   to,
		ChangedBy: actor.Ref(),
		Reason:    optionalText(reason),
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	return &transitioned{c: *c, from: from, to: to, reporter: actor.System}, nil
}

// afterTransition runs once the transaction has committed.
func (s *Service) afterTransition(ctx context.Context, t *transitioned) {
	if t == nil {
		return
	}
	metrics.RecordCaseStateChange(string(t.from), string(t.to))
	s.logger.Info("case state changed",
		zap.String("case_number", t.c.Number.String()),
		zap.String("from", string(t.from)),
		zap.String("to", string(t.to)),
		zap.Bool("reporter_triggered", t.reporter))

	number := t.c.Number.String()
	s.notify(ctx, notification.TemplateStatusChanged, t.c.NotifyEmail(), map[string]string{
		"case_number": number,
		"from_state":  string(t.from),
		"state":       string(t.to),
	})

	if !t.reporter || t.from != domain.StateNeedsInfo || t.to != domain.StateInProgress {
		return
	}
	assignments, err := s.store.Assignments(ctx, t.c.ID)
	if err != nil {
		s.logger.Warn("cannot load assignees for notification", zap.String("case_number", number), zap.Error(err))
		return
	}
	for _, a := range assignments {
		if !a.Active {
			continue
		}
		s.notify(ctx, notification.TemplateReporterReplied, s.principalEmail(ctx, a.PrincipalID), map[string]string{
			"case_number": number,
		})
	}
}

func (s *Service) rejected(err error, caseID types.ID, to domain.State) {
	appErr, ok := errors.As(err)
	if !ok || appErr.HTTPStatus >= 500 {
		return
	}
	metrics.RecordTransitionRejected(strings.ToLower(appErr.Code))
	s.logger.Info("transition rejected",
		zap.String("case_id", caseID.String()),
		zap.String("to", string(to)),
		zap.String("code", appErr.Code))
}

// RecordResolution documents the outcome of a case ahead of closing it.
// A case has at most one resolution.
func (s *Service) RecordResolution(ctx context.Context, caseID types.ID, in domain.ResolutionInput, principalID types.ID) (*domain.Resolution, error) {
	if _, err := s.authorize(ctx, principalID, accessdomain.PermResolutionRecord); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	err := s.store.WithinTx(ctx, func(tx domain.Tx) error {
		c, err := tx.LockCase(ctx, caseID)
		if err != nil {
			return err
		}
		return s.recordResolution(ctx, tx, c.ID, in, principalID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("resolution recorded",
		zap.String("case_id", caseID.String()),
		zap.String("actor", principalID.String()))
	return s.store.Resolution(ctx, caseID)
}

func (s *Service) recordResolution(ctx context.Context, tx domain.Tx, caseID types.ID, in domain.ResolutionInput, by types.ID) error {
	if err := in.Validate(); err != nil {
		return err
	}
	has, err := tx.HasResolution(ctx, caseID)
	if err != nil {
		return err
	}
	if has {
		return errors.Conflict("case already has a resolution")
	}
	return tx.RecordResolution(ctx, domain.Resolution{
		CaseID:      caseID,
		Content:     strings.TrimSpace(in.Content),
		DocumentRef: optionalText(in.DocumentRef),
		ResolvedBy:  by,
		ResolvedAt:  s.now(),
	})
}

// History returns the transitions of a case, oldest first.
func (s *Service) History(ctx context.Context, caseID, principalID types.ID) ([]domain.HistoryEntry, error) {
	if _, err := s.authorize(ctx, principalID, accessdomain.PermCaseRead); err != nil {
		return nil, err
	}
	if _, err := s.store.FindByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, caseID)
}
