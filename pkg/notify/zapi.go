package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultZapiBaseURL = "https://api.z-api.io"

// ZapiCredentials identify one WhatsApp instance.
type ZapiCredentials struct {
	InstanceID  string
	Token       string
	ClientToken string
}

// Complete reports whether the instance can be addressed.
func (c ZapiCredentials) Complete() bool {
	return c.InstanceID != "" && c.Token != ""
}

// ZapiClient sends WhatsApp text through the Z-API HTTP API.
type ZapiClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewZapiClient builds a client; baseURL is overridable for tests.
func NewZapiClient(baseURL string) *ZapiClient {
	if baseURL == "" {
		baseURL = defaultZapiBaseURL
	}
	return &ZapiClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
}

type zapiTextRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// SendText delivers one message with the given instance credentials.
// The phone must already be normalized.
func (c *ZapiClient) SendText(ctx context.Context, creds ZapiCredentials, msg WhatsAppMessage) error {
	payload, err := json.Marshal(zapiTextRequest{Phone: msg.Phone, Message: msg.Message})
	if err != nil {
		return fmt.Errorf("notify: failed to encode zapi request: %w", err)
	}

	url := fmt.Sprintf("%s/instances/%s/token/%s/send-text", c.baseURL, creds.InstanceID, creds.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: failed to build zapi request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if creds.ClientToken != "" {
		req.Header.Set("Client-Token", creds.ClientToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: zapi request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("notify: zapi returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
