package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	accessdomain "github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/credential"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
)

// Channel is how a complaint reached the organization
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelPhone    Channel = "phone"
	ChannelEmail    Channel = "email"
	ChannelInPerson Channel = "in_person"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWeb, ChannelPhone, ChannelEmail, ChannelInPerson:
		return true
	}
	return false
}

// Priority defines case priority
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Satisfaction scores run from 1 to 5.
const (
	MinSatisfaction = 1
	MaxSatisfaction = 5
)

const maxSubjectLength = 500

// Case is one complaint. The credential is held only as its stored form and
// is never serialized.
type Case struct {
	ID             types.ID          `json:"id"`
	Number         types.CaseNumber  `json:"case_number"`
	Credential     credential.Stored `json:"-"`
	OrganizationID string            `json:"organization_id"`
	TypeID         string            `json:"type_id"`
	State          State             `json:"state"`
	Subject        string            `json:"subject"`
	Description    string            `json:"description"`
	Country        string            `json:"country"`
	Channel        Channel           `json:"channel"`

	// Reporter contact, optional
	ReporterName  *string `json:"reporter_name,omitempty"`
	ReporterEmail *string `json:"reporter_email,omitempty"`
	ReporterPhone *string `json:"reporter_phone,omitempty"`
	IsAnonymous   bool    `json:"is_anonymous"`

	// IdentityRedacted marks a view with the reporter fields removed.
	IdentityRedacted bool `json:"identity_redacted,omitempty"`

	CreatedBy         *types.ID `json:"created_by,omitempty"`
	Priority          *Priority `json:"priority,omitempty"`
	SatisfactionScore *int      `json:"satisfaction_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCaseInput carries the fields of a submission
type NewCaseInput struct {
	OrganizationID string  `json:"organization_id"`
	TypeID         string  `json:"type_id"`
	Subject        string  `json:"subject"`
	Description    string  `json:"description"`
	Country        string  `json:"country"`
	Channel        Channel `json:"channel"`
	IsAnonymous    bool    `json:"is_anonymous"`
	ReporterName   string  `json:"reporter_name,omitempty"`
	ReporterEmail  string  `json:"reporter_email,omitempty"`
	ReporterPhone  string  `json:"reporter_phone,omitempty"`
}

// Validate reports every invalid field at once.
func (in NewCaseInput) Validate() error {
	details := make(map[string]string)

	required := map[string]string{
		"organization_id": in.OrganizationID,
		"type_id":         in.TypeID,
		"subject":         in.Subject,
		"description":     in.Description,
		"country":         in.Country,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			details[field] = "required"
		}
	}

	if utf8.RuneCountInString(in.Subject) > maxSubjectLength {
		details["subject"] = "too long"
	}
	if c := strings.TrimSpace(in.Country); c != "" && !isCountryCode(c) {
		details["country"] = "must be a two-letter country code"
	}
	if !in.Channel.Valid() {
		details["channel"] = "must be one of web, phone, email, in_person"
	}
	if e := strings.TrimSpace(in.ReporterEmail); e != "" && !accessdomain.ValidateEmail(e) {
		details["reporter_email"] = "invalid format"
	}
	if !in.IsAnonymous && strings.TrimSpace(in.ReporterName) == "" {
		details["reporter_name"] = "required unless the report is anonymous"
	}

	if len(details) > 0 {
		return errors.Validation("invalid case submission", details)
	}
	return nil
}

// NewCase builds a case in state NEW from validated input.
func NewCase(in NewCaseInput, number types.CaseNumber, stored credential.Stored, createdBy *types.ID, now time.Time) (*Case, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	return &Case{
		ID:             types.NewID(),
		Number:         number,
		Credential:     stored,
		OrganizationID: strings.TrimSpace(in.OrganizationID),
		TypeID:         strings.TrimSpace(in.TypeID),
		State:          StateNew,
		Subject:        strings.TrimSpace(in.Subject),
		Description:    strings.TrimSpace(in.Description),
		Country:        strings.ToUpper(strings.TrimSpace(in.Country)),
		Channel:        in.Channel,
		ReporterName:   optional(in.ReporterName),
		ReporterEmail:  optional(strings.ToLower(in.ReporterEmail)),
		ReporterPhone:  optional(in.ReporterPhone),
		IsAnonymous:    in.IsAnonymous,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ViewFor returns a copy of the case fit for a staff viewer. Anonymous
// reporters' contact fields are removed unless canSeeIdentity is set.
func (c Case) ViewFor(canSeeIdentity bool) Case {
	if c.IsAnonymous && !canSeeIdentity {
		c.ReporterName = nil
		c.ReporterEmail = nil
		c.ReporterPhone = nil
		c.IdentityRedacted = true
	}
	return c
}

// NotifyEmail is the address status updates go to, if any.
func (c *Case) NotifyEmail() string {
	if c.ReporterEmail == nil {
		return ""
	}
	return *c.ReporterEmail
}

// PublicStatus is what a credential holder sees.
type PublicStatus struct {
	CaseNumber        types.CaseNumber `json:"case_number"`
	State             State            `json:"state"`
	TypeID            string           `json:"type_id"`
	OrganizationID    string           `json:"organization_id"`
	AwaitingReporter  bool             `json:"awaiting_reporter"`
	SatisfactionScore *int             `json:"satisfaction_score,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	Comments          []PublicComment  `json:"comments"`
}

// PublicComment is a public comment without author contact details.
type PublicComment struct {
	Content   string    `json:"content"`
	FromStaff bool      `json:"from_staff"`
	CreatedAt time.Time `json:"created_at"`
}

// NewPublicStatus builds the reporter view, keeping only comments a public
// viewer may see.
func NewPublicStatus(c *Case, comments []Comment) PublicStatus {
	status := PublicStatus{
		CaseNumber:        c.Number,
		State:             c.State,
		TypeID:            c.TypeID,
		OrganizationID:    c.OrganizationID,
		AwaitingReporter:  c.State == StateNeedsInfo,
		SatisfactionScore: c.SatisfactionScore,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
		Comments:          []PublicComment{},
	}
	for _, cm := range comments {
		if !VisibleTo(cm, PublicViewer()) {
			continue
		}
		status.Comments = append(status.Comments, PublicComment{
			Content:   cm.Content,
			FromStaff: cm.AuthorPrincipalID != nil,
			CreatedAt: cm.CreatedAt,
		})
	}
	return status
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range strings.ToUpper(s) {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
