package service

import (
	"context"

	accessdomain "github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/case/domain"
	"github.com/integrity-line/platform/internal/notification"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
	"go.uber.org/zap"
)

// Assign makes a principal an active assignee of a case. With replace set,
// every other active assignee is deactivated. Each assignment appends a
// chain-of-custody record per replaced assignee, or one with no
// predecessor when nobody was replaced.
func (s *Service) Assign(ctx context.Context, caseID, assigneeID, principalID types.ID, replace bool) (*domain.Assignment, error) {
	if _, err := s.authorize(ctx, principalID, accessdomain.PermCaseAssign); err != nil {
		return nil, err
	}
	assignee, err := s.checkAssignee(ctx, assigneeID)
	if err != nil {
		return nil, err
	}

	var (
		result  domain.Assignment
		changed bool
		number  string
	)
	err = s.store.WithinTx(ctx, func(tx domain.Tx) error {
		c, err := tx.LockCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.State.Terminal() {
			return errors.Conflict("closed cases cannot be assigned")
		}
		number = c.Number.String()

		active, err := tx.ActiveAssignments(ctx, caseID)
		if err != nil {
			return err
		}

		now := s.now()
		var replaced []types.ID
		alreadyActive := false
		for _, a := range active {
			if a.PrincipalID == assigneeID {
				alreadyActive = true
				result = a
				continue
			}
			if !replace {
				continue
			}
			a.Active = false
			if err := tx.SaveAssignment(ctx, a); err != nil {
				return err
			}
			replaced = append(replaced, a.PrincipalID)
		}

		if alreadyActive && len(replaced) == 0 {
			return nil
		}
		changed = true

		if !alreadyActive {
			result = domain.Assignment{
				CaseID:      caseID,
				PrincipalID: assigneeID,
				AssignedBy:  principalID,
				Active:      true,
				AssignedAt:  now,
			}
			if err := tx.SaveAssignment(ctx, result); err != nil {
				return err
			}
		}

		froms := make([]*types.ID, 0, len(replaced))
		for i := range replaced {
			froms = append(froms, &replaced[i])
		}
		if len(froms) == 0 {
			froms = append(froms, nil)
		}
		for _, from := range froms {
			err := tx.AppendReassignment(ctx, domain.Reassignment{
				ID:              types.NewID(),
				CaseID:          caseID,
				FromPrincipalID: from,
				ToPrincipalID:   assigneeID.Ptr(),
				ReassignedBy:    principalID,
				CreatedAt:       now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info("case assigned",
			zap.String("case_number", number),
			zap.String("assignee", assigneeID.String()),
			zap.Bool("replace", replace),
			zap.String("actor", principalID.String()))
		s.notify(ctx, notification.TemplateAssigned, assignee.Email, map[string]string{
			"case_number": number,
		})
	}
	return &result, nil
}

// checkAssignee requires an existing, active principal that can read cases.
func (s *Service) checkAssignee(ctx context.Context, id types.ID) (*accessdomain.Principal, error) {
	p, perms, err := s.authz.Resolve(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Validation("unknown assignee", map[string]string{"principal_id": "not found"})
	}
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, errors.Validation("assignee is inactive", map[string]string{"principal_id": "inactive"})
	}
	if !perms.Contains(accessdomain.PermCaseRead) {
		return nil, errors.Validation("assignee cannot read cases", map[string]string{"principal_id": "lacks " + string(accessdomain.PermCaseRead)})
	}
	return p, nil
}

// Deactivate ends a principal's assignment. The row stays as history.
func (s *Service) Deactivate(ctx context.Context, caseID, assigneeID, principalID types.ID) error {
	if _, err := s.authorize(ctx, principalID, accessdomain.PermCaseAssign); err != nil {
		return err
	}

	err := s.store.WithinTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.LockCase(ctx, caseID); err != nil {
			return err
		}
		active, err := tx.ActiveAssignments(ctx, caseID)
		if err != nil {
			return err
		}
		for _, a := range active {
			if a.PrincipalID != assigneeID {
				continue
			}
			a.Active = false
			if err := tx.SaveAssignment(ctx, a); err != nil {
				return err
			}
			return tx.AppendReassignment(ctx, domain.Reassignment{
				ID:              types.NewID(),
				CaseID:          caseID,
				FromPrincipalID: assigneeID.Ptr(),
				ReassignedBy:    principalID,
				CreatedAt:       s.now(),
			})
		}
		return errors.NotFound("assignment", assigneeID.String())
	})
	if err != nil {
		return err
	}

	s.logger.Info("assignment deactivated",
		zap.String("case_id", caseID.String()),
		zap.String("assignee", assigneeID.String()),
		zap.String("actor", principalID.String()))
	return nil
}

// Assignments lists active and past assignments of a case.
func (s *Service) Assignments(ctx context.Context, caseID, principalID types.ID) ([]domain.Assignment, error) {
	if _, err := s.authorize(ctx, principalID, accessdomain.PermCaseRead); err != nil {
		return nil, err
	}
	if _, err := s.store.FindByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.Assignments(ctx, caseID)
}

// ChainOfCustody returns every reassignment of a case, oldest first.
func (s *Service) ChainOfCustody(ctx context.Context, caseID, principalID types.ID) ([]domain.Reassignment, error) {
	if _, err := s.authorize(ctx, principalID, accessdomain.PermAuditRead); err != nil {
		return nil, err
	}
	if _, err := s.store.FindByID(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.Reassignments(ctx, caseID)
}
