package service

import (
	"context"

	accessdomain "github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/case/domain"
	"github.com/integrity-line/platform/internal/credential"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/metrics"
	"github.com/integrity-line/platform/internal/shared/types"
	"go.uber.org/zap"
)

// Created is the result of a submission. Secret is shown to the reporter
// once and never stored.
type Created struct {
	Case   *domain.Case
	Secret credential.Secret
}

// Create registers a complaint. A nil actor is a public submission; staff
// submissions need case.create. Number allocation, credential minting, the
// case row and its first history entry share one transaction.
func (s *Service) Create(ctx context.Context, in domain.NewCaseInput, actor *types.ID) (*Created, error) {
	source := "public"
	if actor != nil {
		if _, err := s.authorize(ctx, *actor, accessdomain.PermCaseCreate); err != nil {
			return nil, err
		}
		source = "staff"
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var created Created
	err := s.store.WithinTx(ctx, func(tx domain.Tx) error {
		now := s.now()
		number, err := tx.NextCaseNumber(ctx, now.Year())
		if err != nil {
			return err
		}

		secret, stored, err := s.vault.Mint()
		if err != nil {
			return errors.Internal(err)
		}

		c, err := domain.NewCase(in, number, stored, actor, now)
		if err != nil {
			return err
		}
		if err := tx.InsertCase(ctx, c); err != nil {
			return err
		}

		err = tx.AppendHistory(ctx, domain.HistoryEntry{
			ID:        types.NewID(),
			CaseID:    c.ID,
			ToState:   domain.StateNew,
			ChangedBy: actor,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}

		created = Created{Case: c, Secret: secret}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordCaseCreated(string(created.Case.Channel), source)
	s.logger.Info("case created",
		zap.String("case_number", created.Case.Number.String()),
		zap.String("channel", string(created.Case.Channel)),
		zap.String("source", source))
	return &created, nil
}

// Lookup returns the case identified by number if secret matches. Every
// failure is the same NotFoundOrInvalidCredential error.
func (s *Service) Lookup(ctx context.Context, number, secret string) (*domain.Case, error) {
	return s.authenticate(number, secret, func(n types.CaseNumber) (*domain.Case, error) {
		return s.store.FindByNumber(ctx, n)
	})
}

// PublicStatus is Lookup shaped for the reporter, with public comments only.
func (s *Service) PublicStatus(ctx context.Context, number, secret string) (*domain.PublicStatus, error) {
	c, err := s.Lookup(ctx, number, secret)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.Comments(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	status := domain.NewPublicStatus(c, comments)
	return &status, nil
}

// Get returns a case to a staff reader.
func (s *Service) Get(ctx context.Context, id, principalID types.ID) (*domain.Case, error) {
	v, err := s.authorize(ctx, principalID, accessdomain.PermCaseRead)
	if err != nil {
		return nil, err
	}
	c, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := c.ViewFor(v.Can(accessdomain.PermCaseReporterIdentity))
	return &view, nil
}

// List returns a page of cases and the total match count.
func (s *Service) List(ctx context.Context, filter domain.ListFilter, principalID types.ID) ([]domain.Case, int, error) {
	v, err := s.authorize(ctx, principalID, accessdomain.PermCaseRead)
	if err != nil {
		return nil, 0, err
	}
	cases, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	canSee := v.Can(accessdomain.PermCaseReporterIdentity)
	out := make([]domain.Case, 0, len(cases))
	for _, c := range cases {
		out = append(out, c.ViewFor(canSee))
	}
	return out, total, nil
}

// SetPriority changes a case's priority.
func (s *Service) SetPriority(ctx context.Context, id types.ID, priority domain.Priority, principalID types.ID) (*domain.Case, error) {
	if !priority.Valid() {
		return nil, errors.Validation("invalid priority", map[string]string{"priority": "must be one of low, medium, high, urgent"})
	}
	v, err := s.authorize(ctx, principalID, accessdomain.PermCasePriority)
	if err != nil {
		return nil, err
	}

	var updated *domain.Case
	err = s.store.WithinTx(ctx, func(tx domain.Tx) error {
		c, err := tx.LockCase(ctx, id)
		if err != nil {
			return err
		}
		c.Priority = &priority
		c.UpdatedAt = s.now()
		if err := tx.UpdateCase(ctx, c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("case priority set",
		zap.String("case_number", updated.Number.String()),
		zap.String("priority", string(priority)),
		zap.String("actor", principalID.String()))
	view := updated.ViewFor(v.Can(accessdomain.PermCaseReporterIdentity))
	return &view, nil
}

// Rate records the reporter's satisfaction with a resolved or closed case.
// A case is rated once.
func (s *Service) Rate(ctx context.Context, number, secret string, score int) error {
	if score < domain.MinSatisfaction || score > domain.MaxSatisfaction {
		return errors.Validation("invalid score", map[string]string{"score": "must be between 1 and 5"})
	}

	return s.store.WithinTx(ctx, func(tx domain.Tx) error {
		c, err := s.lockReporterCase(ctx, tx, number, secret)
		if err != nil {
			return err
		}
		if c.State != domain.StateResolved && c.State != domain.StateClosed {
			return errors.Conflict("only resolved or closed cases can be rated")
		}
		if c.SatisfactionScore != nil {
			return errors.Conflict("case has already been rated")
		}
		c.SatisfactionScore = &score
		c.UpdatedAt = s.now()
		return tx.UpdateCase(ctx, c)
	})
}

// Resolution returns the recorded resolution of a case.
func (s *Service) Resolution(ctx context.Context, caseID, principalID types.ID) (*domain.Resolution, error) {
	if _, err := s.authorize(ctx, principalID, accessdomain.PermCaseRead); err != nil {
		return nil, err
	}
	return s.store.Resolution(ctx, caseID)
}

// Attachments returns the attachment metadata of a case.
func (s *Service) Attachments(ctx context.Context, caseID, principalID types.ID) ([]domain.Attachment, error) {
	if _, err := s.authorize(ctx, principalID, accessdomain.PermCaseRead); err != nil {
		return nil, err
	}
	if _, err := s.store.FindByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.Attachments(ctx, caseID)
}
