package service

import (
	"context"
	"strings"

	accessdomain "github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/case/domain"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
	"go.uber.org/zap"
)

const reporterInputReason = "reporter provided information"

// AddStaffComment adds a comment in the given tier. Writing a tier takes
// the permission that reading it takes; public comments need
// comment.public.
func (s *Service) AddStaffComment(ctx context.Context, caseID types.ID, content string, visibility domain.Visibility, principalID types.ID) (*domain.Comment, error) {
	tier, ok := domain.ParseVisibility(string(visibility))
	if !ok {
		return nil, errors.Validation("invalid visibility", map[string]string{"visibility": "must be one of public, internal, analyst"})
	}
	if err := domain.ValidateContent(content); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, principalID, tier.Permission()); err != nil {
		return nil, err
	}

	author, _, err := s.authz.Resolve(ctx, principalID)
	if err != nil {
		return nil, err
	}
	roles, err := s.authz.RoleCodes(ctx, principalID)
	if err != nil {
		return nil, err
	}

	comment := domain.Comment{
		ID:                 types.NewID(),
		CaseID:             caseID,
		AuthorPrincipalID:  principalID.Ptr(),
		AuthorName:         optionalText(author.Name),
		AuthorEmail:        optionalText(author.Email),
		Content:            strings.TrimSpace(content),
		Visibility:         tier,
		AuthorRoleSnapshot: optionalText(strings.Join(roles, ",")),
	}
	err = s.store.WithinTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.LockCase(ctx, caseID); err != nil {
			return err
		}
		comment.CreatedAt = s.now()
		return tx.InsertComment(ctx, comment)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("comment added",
		zap.String("case_id", caseID.String()),
		zap.String("visibility", string(tier)),
		zap.String("actor", principalID.String()))
	return &comment, nil
}

// AddReporterComment records a reply from the credential holder. Replies
// are accepted only while the case waits for the reporter, are always
// public, and move the case back to IN_PROGRESS in the same transaction.
func (s *Service) AddReporterComment(ctx context.Context, number, secret, name, email, content string) (*domain.Comment, error) {
	if err := domain.ValidateContent(content); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email != "" && !accessdomain.ValidateEmail(email) {
		return nil, errors.Validation("invalid email", map[string]string{"email": "invalid format"})
	}

	var (
		comment domain.Comment
		done    *transitioned
	)
	err := s.store.WithinTx(ctx, func(tx domain.Tx) error {
		c, err := s.lockReporterCase(ctx, tx, number, secret)
		if err != nil {
			return err
		}
		if c.State != domain.StateNeedsInfo {
			return errors.Conflict("case is not awaiting information from the reporter")
		}

		comment = domain.Comment{
			ID:          types.NewID(),
			CaseID:      c.ID,
			AuthorName:  optionalText(name),
			AuthorEmail: optionalText(email),
			Content:     strings.TrimSpace(content),
			Visibility:  domain.VisibilityPublic,
			CreatedAt:   s.now(),
		}
		if err := tx.InsertComment(ctx, comment); err != nil {
			return err
		}

		done, err = s.applyTransition(ctx, tx, c, domain.StateInProgress, domain.SystemActor, nil, reporterInputReason, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, done)
	return &comment, nil
}

// AddReporterAttachment records metadata of a file the reporter uploaded.
// A case waiting for the reporter goes back to IN_PROGRESS.
func (s *Service) AddReporterAttachment(ctx context.Context, number, secret string, in domain.AttachmentInput) (*domain.Attachment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var (
		attachment domain.Attachment
		done       *transitioned
	)
	err := s.store.WithinTx(ctx, func(tx domain.Tx) error {
		c, err := s.lockReporterCase(ctx, tx, number, secret)
		if err != nil {
			return err
		}
		if !domain.AcceptsReporterInput(c.State) {
			return errors.Conflict("case no longer accepts attachments")
		}

		attachment = domain.Attachment{
			ID:          types.NewID(),
			CaseID:      c.ID,
			FileName:    strings.TrimSpace(in.FileName),
			ContentType: strings.TrimSpace(in.ContentType),
			SizeBytes:   in.SizeBytes,
			StorageRef:  strings.TrimSpace(in.StorageRef),
			CreatedAt:   s.now(),
		}
		if err := tx.RecordAttachment(ctx, attachment); err != nil {
			return err
		}

		if c.State == domain.StateNeedsInfo {
			done, err = s.applyTransition(ctx, tx, c, domain.StateInProgress, domain.SystemActor, nil, reporterInputReason, nil)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, done)
	return &attachment, nil
}

// Comments returns the comments of a case the principal may read.
func (s *Service) Comments(ctx context.Context, caseID, principalID types.ID) ([]domain.Comment, error) {
	v, err := s.authorize(ctx, principalID, accessdomain.PermCaseRead)
	if err != nil {
		return nil, err
	}
	c, err := s.store.FindByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.Comments(ctx, caseID)
	if err != nil {
		return nil, err
	}
	visible := domain.FilterVisible(comments, v)
	if c.IsAnonymous && !v.Can(accessdomain.PermCaseReporterIdentity) {
		for i := range visible {
			visible[i] = visible[i].RedactReporter()
		}
	}
	return visible, nil
}
