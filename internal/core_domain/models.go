package core_domain

import (
	"encoding/json"
	"time"
)

// MessageStatus defines the lifecycle states of an outbound chat message.
// Transitions after "processing" are owned exclusively by the message sender
// worker; no other writer may move the status once processing has begun.
type MessageStatus string

const (
	MessageStatusQueued     MessageStatus = "queued"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusSent       MessageStatus = "sent"
	MessageStatusFailed     MessageStatus = "failed" // transport-level failure, went through retries
	MessageStatusError      MessageStatus = "error"  // permanent provider rejection
)

// Message is one outbound chat message owned by a tenant.
type Message struct {
	ID                 string        `json:"id"`
	CompanyID          int64         `json:"company_id"`
	ProviderID         string        `json:"provider_id"`
	ExternalInstanceID string        `json:"external_instance_id"`
	PhoneTo            string        `json:"phone_to"`
	MessageType        string        `json:"message_type"` // text | media
	Content            string        `json:"content"`
	MediaURL           *string       `json:"media_url,omitempty"`
	Status             MessageStatus `json:"status"`
	ExternalID         *string       `json:"external_id,omitempty"` // provider-side message id
	ErrorMessage       *string       `json:"error_message,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// OutboxStatus defines the lifecycle states of an outbox record.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// OutboxRecord stages one future broker publish. Created inside the same
// database transaction as the domain write that decided to send it; drained
// asynchronously by the outbox processor.
type OutboxRecord struct {
	ID           string          `json:"id"`
	QueueName    string          `json:"queue_name"`
	RoutingKey   string          `json:"routing_key"`
	Payload      json.RawMessage `json:"payload"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	Status       OutboxStatus    `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// QueueMetadata records one provisioned broker queue for observability and
// the idle-queue sweep.
type QueueMetadata struct {
	CompanyID    int64     `json:"company_id"`
	QueueName    string    `json:"queue_name"`
	LastActivity time.Time `json:"last_activity"`
	IsActive     bool      `json:"is_active"`
}

// ValidatedPhoneNumber caches the result of a provider existence check, keyed
// by (instance_id, original_number). Entries do not expire on their own; a
// number checked invalid stays invalid until an explicit re-check.
type ValidatedPhoneNumber struct {
	InstanceID      string    `json:"instance_id"`
	OriginalNumber  string    `json:"original_number"`
	ValidatedNumber string    `json:"validated_number"`
	IsValid         bool      `json:"is_valid"`
	LastValidatedAt time.Time `json:"last_validated_at"`
}

// Company is a tenant sharing the deployment. Each company gets its own
// isolated queue lanes.
type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ProviderKind identifies which external backend a provider row talks to.
type ProviderKind string

const (
	ProviderKindZAPI       ProviderKind = "zapi"
	ProviderKindWPPConnect ProviderKind = "wppconnect"
	ProviderKindMeta       ProviderKind = "meta"
)

// ChatProvider is a tenant-configured external backend account.
type ChatProvider struct {
	ID        string       `json:"id"`
	CompanyID int64        `json:"company_id"`
	Kind      ProviderKind `json:"kind"`
	BaseURL   string       `json:"base_url"`
	APIToken  string       `json:"-"`
	IsHealthy bool         `json:"is_healthy"`
	IsActive  bool         `json:"is_active"`
	CheckedAt *time.Time   `json:"checked_at,omitempty"`
}

// ChatInstance is one connected account (a WhatsApp session, an FB page)
// living under a provider.
type ChatInstance struct {
	ID         string  `json:"id"`
	CompanyID  int64   `json:"company_id"`
	ProviderID string  `json:"provider_id"`
	ExternalID string  `json:"external_id"` // provider-side instance identifier
	WebhookURL *string `json:"webhook_url,omitempty"`
	IsActive   bool    `json:"is_active"`
}

// GatewayLog is one structured log record drained from the logs lane into the
// database by the log consumer.
type GatewayLog struct {
	ID        string          `json:"id"`
	Level     string          `json:"level"`
	Source    string          `json:"source"`
	Message   string          `json:"message"`
	Context   json.RawMessage `json:"context,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
