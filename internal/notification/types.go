package notification

import (
	"context"
	"time"
)

// Template codes understood by the delivery side.
const (
	TemplateStatusChanged   = "case.status_changed"
	TemplateReporterReplied = "case.reporter_replied"
	TemplateAssigned        = "case.assigned"
)

// Intent asks for one message to be sent. Rendering and transport happen
// downstream; the platform only records what should be said to whom.
type Intent struct {
	ID             string            `json:"id"`
	TemplateCode   string            `json:"template_code"`
	RecipientEmail string            `json:"recipient_email"`
	Context        map[string]string `json:"context,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Notifier accepts intents. Callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, intent Intent) error
}

// Provider delivers a single intent to its destination.
type Provider interface {
	Deliver(ctx context.Context, intent Intent) error
}

// Stats holds delivery counters
type Stats struct {
	Queued    int64 `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}
