// Package service runs the case lifecycle: intake and credential lookup,
// state transitions, assignments and comments. Every mutation happens in a
// single store transaction; notifications go out after it commits.
package service

import (
	"context"
	"strings"
	"time"

	accessdomain "github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/case/domain"
	"github.com/integrity-line/platform/internal/credential"
	"github.com/integrity-line/platform/internal/notification"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/logging"
	"github.com/integrity-line/platform/internal/shared/metrics"
	"github.com/integrity-line/platform/internal/shared/types"
	"go.uber.org/zap"
)

// Authorizer answers who a staff principal is and what it may do.
type Authorizer interface {
	Resolve(ctx context.Context, principalID types.ID) (*accessdomain.Principal, accessdomain.PermissionSet, error)
	RoleCodes(ctx context.Context, principalID types.ID) ([]string, error)
}

// Service is the case application service.
type Service struct {
	store    domain.Store
	authz    Authorizer
	notifier notification.Notifier
	vault    *credential.Vault
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithVault replaces the credential vault.
func WithVault(v *credential.Vault) Option {
	return func(s *Service) { s.vault = v }
}

// New creates the case service. A nil notifier discards intents.
func New(store domain.Store, authz Authorizer, notifier notification.Notifier, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		authz:    authz,
		notifier: notifier,
		vault:    credential.NewVault(nil),
		logger:   logging.OrNop(logger).Named("case"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// viewer resolves a principal's permissions. Unknown principals hold
// nothing rather than failing, so callers see Forbidden.
func (s *Service) viewer(ctx context.Context, principalID types.ID) (domain.Viewer, error) {
	if principalID.IsZero() {
		return domain.PublicViewer(), nil
	}
	_, perms, err := s.authz.Resolve(ctx, principalID)
	if errors.Is(err, errors.ErrNotFound) {
		return domain.Viewer{PrincipalID: principalID, Permissions: accessdomain.NewPermissionSet()}, nil
	}
	if err != nil {
		return domain.Viewer{}, err
	}
	return domain.Viewer{PrincipalID: principalID, Permissions: perms}, nil
}

// authorize returns the principal's viewer, or Forbidden naming perm.
func (s *Service) authorize(ctx context.Context, principalID types.ID, perm accessdomain.Permission) (domain.Viewer, error) {
	v, err := s.viewer(ctx, principalID)
	if err != nil {
		return v, err
	}
	allowed := v.Can(perm)
	metrics.RecordAuthorizationDecision(string(perm), allowed)
	if !allowed {
		s.logger.Debug("permission denied",
			zap.String("principal_id", principalID.String()),
			zap.String("permission", string(perm)))
		return v, errors.Forbidden(string(perm))
	}
	return v, nil
}

// authenticate checks a reporter credential. Every failure returns the
// same error, and an unknown or malformed number is still verified against
// the decoy so all failures cost one hash.
func (s *Service) authenticate(number, secret string, find func(types.CaseNumber) (*domain.Case, error)) (*domain.Case, error) {
	n, err := types.ParseCaseNumber(number)
	if err != nil {
		return nil, s.rejectCredential(secret)
	}
	c, err := find(n)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, s.rejectCredential(secret)
	}
	if err != nil {
		return nil, err
	}
	if !credential.Verify(secret, c.Credential) {
		metrics.RecordCredentialLookup(false)
		return nil, errors.NotFoundOrInvalidCredential()
	}
	metrics.RecordCredentialLookup(true)
	return c, nil
}

func (s *Service) rejectCredential(secret string) error {
	credential.Verify(secret, credential.Decoy())
	metrics.RecordCredentialLookup(false)
	return errors.NotFoundOrInvalidCredential()
}

// lockReporterCase authenticates inside tx and holds the case row.
func (s *Service) lockReporterCase(ctx context.Context, tx domain.Tx, number, secret string) (*domain.Case, error) {
	return s.authenticate(number, secret, func(n types.CaseNumber) (*domain.Case, error) {
		return tx.LockCaseByNumber(ctx, n)
	})
}

func (s *Service) notify(ctx context.Context, template, email string, data map[string]string) {
	if s.notifier == nil || email == "" {
		return
	}
	err := s.notifier.Notify(ctx, notification.Intent{
		ID:             types.NewID().String(),
		TemplateCode:   template,
		RecipientEmail: email,
		Context:        data,
		CreatedAt:      s.now(),
	})
	if err != nil {
		s.logger.Warn("notification not queued",
			zap.String("template", template),
			zap.Error(err))
	}
}

// principalEmail looks up a staff address for notifications; failures
// only cost the message.
func (s *Service) principalEmail(ctx context.Context, principalID types.ID) string {
	p, _, err := s.authz.Resolve(ctx, principalID)
	if err != nil {
		s.logger.Warn("cannot resolve notification recipient",
			zap.String("principal_id", principalID.String()),
			zap.Error(err))
		return ""
	}
	return p.Email
}

func optionalText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
