package models

import "time"

const (
	WebhookProcessed = "processed"
	WebhookFailed    = "failed"
	WebhookDead      = "dead"
)

// WebhookEvent is the ledger entry for one gateway event id.
type WebhookEvent struct {
	ID        string
	Type      string
	Status    string
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Settled reports whether the event must not be processed again.
func (e *WebhookEvent) Settled() bool {
	return e.Status == WebhookProcessed || e.Status == WebhookDead
}
