package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ZAPIClient talks to a Z-API style WhatsApp backend. Endpoints hang off
// {base}/instances/{externalInstanceID} and authenticate with a client token
// header.
type ZAPIClient struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiToken   string
}

// NewZAPIClient builds a Z-API backend client.
func NewZAPIClient(logger *slog.Logger, baseURL, apiToken string, httpClient *http.Client) *ZAPIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ZAPIClient{
		logger:     logger.With("provider", "zapi"),
		httpClient: httpClient,
		baseURL:    baseURL,
		apiToken:   apiToken,
	}
}

func (c *ZAPIClient) headers() map[string]string {
	return map[string]string{"Client-Token": c.apiToken}
}

func (c *ZAPIClient) instanceURL(instanceID, path string) string {
	return fmt.Sprintf("%s/instances/%s/%s", c.baseURL, url.PathEscape(instanceID), path)
}

type zapiSendTextRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type zapiSendMediaRequest struct {
	Phone    string `json:"phone"`
	MediaURL string `json:"mediaUrl"`
	Caption  string `json:"caption,omitempty"`
}

type zapiSendResponse struct {
	ZaapID    string `json:"zaapId"`
	MessageID string `json:"messageId"`
}

func (c *ZAPIClient) SendText(ctx context.Context, externalInstanceID, phone, content string) *SendResult {
	resp, err := doJSON(ctx, c.httpClient, http.MethodPost,
		c.instanceURL(externalInstanceID, "send-text"), c.headers(),
		zapiSendTextRequest{Phone: phone, Message: content})
	return c.normalizeSend(ctx, resp, err)
}

func (c *ZAPIClient) SendMedia(ctx context.Context, externalInstanceID, phone, mediaURL, caption string) *SendResult {
	resp, err := doJSON(ctx, c.httpClient, http.MethodPost,
		c.instanceURL(externalInstanceID, "send-media"), c.headers(),
		zapiSendMediaRequest{Phone: phone, MediaURL: mediaURL, Caption: caption})
	return c.normalizeSend(ctx, resp, err)
}

func (c *ZAPIClient) normalizeSend(ctx context.Context, resp *apiResponse, err error) *SendResult {
	if err != nil || !resp.ok() {
		res := sendFailure("zapi", resp, err)
		c.logger.WarnContext(ctx, "send failed", "error", res.Error, "retryable", res.Retryable)
		return res
	}
	var body zapiSendResponse
	if jsonErr := json.Unmarshal(resp.Body, &body); jsonErr != nil {
		return &SendResult{Success: false, Error: fmt.Sprintf("zapi: malformed response: %v", jsonErr), Retryable: false}
	}
	messageID := body.MessageID
	if messageID == "" {
		messageID = body.ZaapID
	}
	return &SendResult{Success: true, MessageID: messageID}
}

type zapiPhoneExistsResponse struct {
	Exists bool   `json:"exists"`
	ChatID string `json:"chatId,omitempty"`
}

func (c *ZAPIClient) NumberExists(ctx context.Context, externalInstanceID, phone string) (*NumberCheck, error) {
	resp, err := doJSON(ctx, c.httpClient, http.MethodGet,
		c.instanceURL(externalInstanceID, "phone-exists/"+url.PathEscape(phone)), c.headers(), nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("zapi: phone-exists returned status %d", resp.StatusCode)
	}
	var body zapiPhoneExistsResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("zapi: malformed phone-exists response: %w", err)
	}
	return &NumberCheck{Exists: body.Exists, ChatID: body.ChatID}, nil
}

type zapiStatusResponse struct {
	Connected bool `json:"connected"`
}

func (c *ZAPIClient) HealthCheck(ctx context.Context) bool {
	resp, err := doJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/status", c.headers(), nil)
	if err != nil || !resp.ok() {
		return false
	}
	var body zapiStatusResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return false
	}
	return body.Connected
}

type zapiCreateGroupRequest struct {
	GroupName string   `json:"groupName"`
	Phones    []string `json:"phones"`
}

type zapiCreateGroupResponse struct {
	GroupID string `json:"groupId"`
}

func (c *ZAPIClient) CreateGroup(ctx context.Context, externalInstanceID, name string, participants []string) *GroupResult {
	resp, err := doJSON(ctx, c.httpClient, http.MethodPost,
		c.instanceURL(externalInstanceID, "create-group"), c.headers(),
		zapiCreateGroupRequest{GroupName: name, Phones: participants})
	if err != nil {
		return &GroupResult{Success: false, Error: fmt.Sprintf("zapi: %v", err)}
	}
	if !resp.ok() {
		return &GroupResult{Success: false, Error: fmt.Sprintf("zapi: unexpected status %d", resp.StatusCode)}
	}
	var body zapiCreateGroupResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return &GroupResult{Success: false, Error: fmt.Sprintf("zapi: malformed response: %v", err)}
	}
	return &GroupResult{Success: true, GroupID: body.GroupID}
}

type zapiContact struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

func (c *ZAPIClient) ListContacts(ctx context.Context, externalInstanceID string) ([]Contact, error) {
	resp, err := doJSON(ctx, c.httpClient, http.MethodGet,
		c.instanceURL(externalInstanceID, "contacts"), c.headers(), nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("zapi: contacts returned status %d", resp.StatusCode)
	}
	var body []zapiContact
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("zapi: malformed contacts response: %w", err)
	}
	contacts := make([]Contact, 0, len(body))
	for _, ct := range body {
		contacts = append(contacts, Contact{Phone: ct.Phone, Name: ct.Name})
	}
	return contacts, nil
}
