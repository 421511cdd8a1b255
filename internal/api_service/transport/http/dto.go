package http

import (
	"time"

	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/providers"
)

// SendMessageRequest is the DTO for POST /api/v1/messages.
type SendMessageRequest struct {
	ProviderID         string `json:"provider_id" validate:"required,uuid4"`
	ExternalInstanceID string `json:"external_instance_id" validate:"required"`
	PhoneTo            string `json:"phone_to" validate:"required,min=5,max=20"`
	MessageType        string `json:"message_type" validate:"required,oneof=text media"`
	Content            string `json:"content,omitempty" validate:"required_if=MessageType text"`
	MediaURL           string `json:"media_url,omitempty" validate:"required_if=MessageType media,omitempty,url"`
	Priority           string `json:"priority,omitempty" validate:"omitempty,oneof=high normal low"`
}

// SendMessageResponse is returned once the message and its outbox record are
// committed.
type SendMessageResponse struct {
	MessageID string                    `json:"message_id"`
	Status    core_domain.MessageStatus `json:"status"`
	QueueName string                    `json:"queue_name"`
}

// MessageStatusResponse is the DTO for GET /api/v1/messages/{messageID}.
type MessageStatusResponse struct {
	ID           string                    `json:"id"`
	PhoneTo      string                    `json:"phone_to"`
	MessageType  string                    `json:"message_type"`
	Status       core_domain.MessageStatus `json:"status"`
	ExternalID   *string                   `json:"external_id,omitempty"`
	ErrorMessage *string                   `json:"error_message,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// CreateGroupRequest is the DTO for POST /api/v1/instances/{id}/groups.
type CreateGroupRequest struct {
	ProviderID   string   `json:"provider_id" validate:"required,uuid4"`
	Name         string   `json:"name" validate:"required,min=1,max=128"`
	Participants []string `json:"participants" validate:"required,min=1,dive,min=5,max=20"`
}

// CreateGroupResponse is returned once the backend created the group.
type CreateGroupResponse struct {
	GroupID string `json:"group_id"`
}

// ListContactsResponse is the DTO for GET /api/v1/instances/{id}/contacts.
type ListContactsResponse struct {
	Contacts []providers.Contact `json:"contacts"`
}

// RevalidatePhoneRequest is the DTO for POST /api/v1/instances/{id}/phone-checks.
type RevalidatePhoneRequest struct {
	ProviderID string `json:"provider_id" validate:"required,uuid4"`
	Phone      string `json:"phone" validate:"required,min=5,max=20"`
}

// ProvisionResponse is returned by the tenant provisioning endpoints.
type ProvisionResponse struct {
	CompanyID int64  `json:"company_id"`
	Result    string `json:"result"`
}

// ErrorResponse is the normalized error envelope every failure returns.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
