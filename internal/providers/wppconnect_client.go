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

// WPPConnectClient talks to a WPPConnect-server style WhatsApp backend.
// Endpoints hang off {base}/api/{session} and authenticate with a bearer
// token; responses wrap their payload in a {status, response} envelope.
type WPPConnectClient struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiToken   string
}

// NewWPPConnectClient builds a WPPConnect backend client.
func NewWPPConnectClient(logger *slog.Logger, baseURL, apiToken string, httpClient *http.Client) *WPPConnectClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &WPPConnectClient{
		logger:     logger.With("provider", "wppconnect"),
		httpClient: httpClient,
		baseURL:    baseURL,
		apiToken:   apiToken,
	}
}

func (c *WPPConnectClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiToken}
}

func (c *WPPConnectClient) sessionURL(session, path string) string {
	return fmt.Sprintf("%s/api/%s/%s", c.baseURL, url.PathEscape(session), path)
}

type wppSendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type wppSendFileRequest struct {
	Phone   string `json:"phone"`
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

type wppEnvelope struct {
	Status   string          `json:"status"`
	Message  string          `json:"message,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

type wppSentMessage struct {
	ID string `json:"id"`
}

func (c *WPPConnectClient) SendText(ctx context.Context, externalInstanceID, phone, content string) *SendResult {
	resp, err := doJSON(ctx, c.httpClient, http.MethodPost,
		c.sessionURL(externalInstanceID, "send-message"), c.headers(),
		wppSendMessageRequest{Phone: phone, Message: content})
	return c.normalizeSend(ctx, resp, err)
}

func (c *WPPConnectClient) SendMedia(ctx context.Context, externalInstanceID, phone, mediaURL, caption string) *SendResult {
	resp, err := doJSON(ctx, c.httpClient, http.MethodPost,
		c.sessionURL(externalInstanceID, "send-file"), c.headers(),
		wppSendFileRequest{Phone: phone, URL: mediaURL, Caption: caption})
	return c.normalizeSend(ctx, resp, err)
}

func (c *WPPConnectClient) normalizeSend(ctx context.Context, resp *apiResponse, err error) *SendResult {
	if err != nil || !resp.ok() {
		res := sendFailure("wppconnect", resp, err)
		c.logger.WarnContext(ctx, "send failed", "error", res.Error, "retryable", res.Retryable)
		return res
	}
	var env wppEnvelope
	if jsonErr := json.Unmarshal(resp.Body, &env); jsonErr != nil {
		return &SendResult{Success: false, Error: fmt.Sprintf("wppconnect: malformed response: %v", jsonErr), Retryable: false}
	}
	if env.Status != "success" {
		return &SendResult{Success: false, Error: fmt.Sprintf("wppconnect: %s", env.Message), Retryable: false}
	}
	var sent []wppSentMessage
	_ = json.Unmarshal(env.Response, &sent)
	messageID := ""
	if len(sent) > 0 {
		messageID = sent[0].ID
	}
	return &SendResult{Success: true, MessageID: messageID}
}

type wppNumberStatus struct {
	NumberExists bool `json:"numberExists"`
	ID           struct {
		Serialized string `json:"_serialized"`
	} `json:"id"`
}

func (c *WPPConnectClient) NumberExists(ctx context.Context, externalInstanceID, phone string) (*NumberCheck, error) {
	resp, err := doJSON(ctx, c.httpClient, http.MethodGet,
		c.sessionURL(externalInstanceID, "check-number-status/"+url.PathEscape(phone)), c.headers(), nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("wppconnect: check-number-status returned status %d", resp.StatusCode)
	}
	var env wppEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("wppconnect: malformed check-number-status response: %w", err)
	}
	var status wppNumberStatus
	if err := json.Unmarshal(env.Response, &status); err != nil {
		return nil, fmt.Errorf("wppconnect: malformed number status payload: %w", err)
	}
	return &NumberCheck{Exists: status.NumberExists, ChatID: status.ID.Serialized}, nil
}

type wppSessionStatus struct {
	Status string `json:"status"`
}

func (c *WPPConnectClient) HealthCheck(ctx context.Context) bool {
	resp, err := doJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/api/status-session", c.headers(), nil)
	if err != nil || !resp.ok() {
		return false
	}
	var body wppSessionStatus
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return false
	}
	return body.Status == "CONNECTED"
}

type wppCreateGroupRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type wppCreatedGroup struct {
	GroupID string `json:"groupId"`
}

func (c *WPPConnectClient) CreateGroup(ctx context.Context, externalInstanceID, name string, participants []string) *GroupResult {
	resp, err := doJSON(ctx, c.httpClient, http.MethodPost,
		c.sessionURL(externalInstanceID, "create-group"), c.headers(),
		wppCreateGroupRequest{Name: name, Participants: participants})
	if err != nil {
		return &GroupResult{Success: false, Error: fmt.Sprintf("wppconnect: %v", err)}
	}
	if !resp.ok() {
		return &GroupResult{Success: false, Error: fmt.Sprintf("wppconnect: unexpected status %d", resp.StatusCode)}
	}
	var env wppEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil || env.Status != "success" {
		return &GroupResult{Success: false, Error: "wppconnect: group creation rejected"}
	}
	var group wppCreatedGroup
	_ = json.Unmarshal(env.Response, &group)
	return &GroupResult{Success: true, GroupID: group.GroupID}
}

type wppContact struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

func (c *WPPConnectClient) ListContacts(ctx context.Context, externalInstanceID string) ([]Contact, error) {
	resp, err := doJSON(ctx, c.httpClient, http.MethodGet,
		c.sessionURL(externalInstanceID, "all-contacts"), c.headers(), nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("wppconnect: all-contacts returned status %d", resp.StatusCode)
	}
	var env wppEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("wppconnect: malformed contacts response: %w", err)
	}
	var body []wppContact
	if err := json.Unmarshal(env.Response, &body); err != nil {
		return nil, fmt.Errorf("wppconnect: malformed contacts payload: %w", err)
	}
	contacts := make([]Contact, 0, len(body))
	for _, ct := range body {
		contacts = append(contacts, Contact{Phone: ct.Phone, Name: ct.Name})
	}
	return contacts, nil
}
