package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// MetaClient talks to a Facebook/Instagram Graph-style messaging backend.
// The external instance id is the page or account id the message goes out
// through.
type MetaClient struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiToken   string
}

// NewMetaClient builds a Meta backend client.
func NewMetaClient(logger *slog.Logger, baseURL, apiToken string, httpClient *http.Client) *MetaClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &MetaClient{
		logger:     logger.With("provider", "meta"),
		httpClient: httpClient,
		baseURL:    baseURL,
		apiToken:   apiToken,
	}
}

func (c *MetaClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiToken}
}

type metaRecipient struct {
	ID string `json:"id"`
}

type metaMessageBody struct {
	Text string `json:"text,omitempty"`
	Attachment *metaAttachment `json:"attachment,omitempty"`
}

type metaAttachment struct {
	Type    string            `json:"type"`
	Payload map[string]string `json:"payload"`
}

type metaSendRequest struct {
	Recipient metaRecipient   `json:"recipient"`
	Message   metaMessageBody `json:"message"`
}

type metaSendResponse struct {
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id"`
}

func (c *MetaClient) SendText(ctx context.Context, externalInstanceID, recipientID, content string) *SendResult {
	return c.send(ctx, externalInstanceID, metaSendRequest{
		Recipient: metaRecipient{ID: recipientID},
		Message:   metaMessageBody{Text: content},
	})
}

func (c *MetaClient) SendMedia(ctx context.Context, externalInstanceID, recipientID, mediaURL, _ string) *SendResult {
	return c.send(ctx, externalInstanceID, metaSendRequest{
		Recipient: metaRecipient{ID: recipientID},
		Message: metaMessageBody{Attachment: &metaAttachment{
			Type:    "image",
			Payload: map[string]string{"url": mediaURL},
		}},
	})
}

func (c *MetaClient) send(ctx context.Context, externalInstanceID string, req metaSendRequest) *SendResult {
	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, url.PathEscape(externalInstanceID))
	resp, err := doJSON(ctx, c.httpClient, http.MethodPost, endpoint, c.headers(), req)
	if err != nil || !resp.ok() {
		res := sendFailure("meta", resp, err)
		c.logger.WarnContext(ctx, "send failed", "error", res.Error, "retryable", res.Retryable)
		return res
	}
	var body metaSendResponse
	if jsonErr := json.Unmarshal(resp.Body, &body); jsonErr != nil {
		return &SendResult{Success: false, Error: fmt.Sprintf("meta: malformed response: %v", jsonErr), Retryable: false}
	}
	return &SendResult{Success: true, MessageID: body.MessageID}
}

// NumberExists always reports existing: the Graph API has no pre-send
// existence probe, recipients are platform-scoped ids handed to us by inbound
// events.
func (c *MetaClient) NumberExists(_ context.Context, _ string, recipientID string) (*NumberCheck, error) {
	return &NumberCheck{Exists: true, ChatID: recipientID}, nil
}

func (c *MetaClient) HealthCheck(ctx context.Context) bool {
	resp, err := doJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/me", c.headers(), nil)
	return err == nil && resp.ok()
}

// CreateGroup is not part of the Graph messaging surface.
func (c *MetaClient) CreateGroup(context.Context, string, string, []string) *GroupResult {
	return &GroupResult{Success: false, Error: "meta: group creation not supported"}
}

// ListContacts is not part of the Graph messaging surface.
func (c *MetaClient) ListContacts(context.Context, string) ([]Contact, error) {
	return nil, errors.New("meta: contact listing not supported")
}
