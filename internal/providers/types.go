package providers

import (
	"context"
)

// SendRequest carries one outbound message to a backend.
type SendRequest struct {
	ExternalInstanceID string
	Phone              string
	MessageType        string // text | media
	Content            string
	MediaURL           string
}

// SendResult is the normalized outcome of a send, whatever backend shape it
// wrapped. No provider-specific error type crosses this boundary.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
	// Retryable marks transport-level failures (timeouts, 5xx) that the
	// sender should escalate through the bounded-retry path. Permanent
	// rejections (4xx, bad payload) are terminal.
	Retryable bool `json:"-"`
}

// NumberCheck is the normalized result of a number existence probe.
type NumberCheck struct {
	Exists bool
	// ChatID is the provider-reported canonical identity, e.g.
	// "558498537596@c.us" for WhatsApp backends.
	ChatID string
}

// Contact is one address-book entry reported by a backend.
type Contact struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// GroupResult is the normalized outcome of a group creation.
type GroupResult struct {
	Success bool   `json:"success"`
	GroupID string `json:"group_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Backend is the uniform capability set every external chat backend
// implements. Transport-level failures come back as errors; provider-level
// rejections come back inside the result values.
type Backend interface {
	SendText(ctx context.Context, externalInstanceID, phone, content string) *SendResult
	SendMedia(ctx context.Context, externalInstanceID, phone, mediaURL, caption string) *SendResult
	// NumberExists probes whether a phone number exists on the platform. A
	// non-nil error means the probe itself failed (timeout, connection) and
	// the answer is unknown; callers must not treat that as "does not exist".
	NumberExists(ctx context.Context, externalInstanceID, phone string) (*NumberCheck, error)
	HealthCheck(ctx context.Context) bool
	CreateGroup(ctx context.Context, externalInstanceID, name string, participants []string) *GroupResult
	ListContacts(ctx context.Context, externalInstanceID string) ([]Contact, error)
}
