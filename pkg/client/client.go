// Package client is a small caller-side helper for the gateway's signed
// submit endpoint. It produces the canonical HMAC signature over the exact
// request bytes, so callers never re-serialize the payload after signing.
package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/courierlabs/pushgate/pkg/types"
)

const notifyPath = "/v1/notify"

// Signature holds the freshness headers for one signed request.
type Signature struct {
	Timestamp string
	Nonce     string
	Signature string
}

// Sign computes the request signature over method, path, timestamp, nonce
// and the raw body, joined by newlines.
func Sign(secret, method, path, timestamp, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte("\n"))
	mac.Write([]byte(path))
	mac.Write([]byte("\n"))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write([]byte(nonce))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Client submits notifications to one gateway on behalf of one tenant.
type Client struct {
	BaseURL string
	AppID   string
	Secret  string

	// SendAPIKey also attaches the secret as a bearer token for gateways
	// running API-key auth.
	SendAPIKey bool

	HTTPClient *http.Client

	// now and newNonce are overridable in tests.
	now      func() time.Time
	newNonce func() string
}

// New creates a client for the given gateway and tenant credential.
func New(baseURL, appID, secret string) *Client {
	return &Client{
		BaseURL:    baseURL,
		AppID:      appID,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		newNonce:   uuid.NewString,
	}
}

// Response is the gateway's submit reply.
type Response struct {
	OK      bool                         `json:"ok"`
	AppID   string                       `json:"appId"`
	Results map[string]*types.SendResult `json:"results"`
	Error   *ResponseError               `json:"error,omitempty"`
}

// ResponseError is the error half of the gateway envelope.
type ResponseError struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Notify signs and submits the request. Non-2xx replies are returned as an
// error carrying the gateway's message.
func (c *Client) Notify(ctx context.Context, req *types.SubmitRequest) (*Response, error) {
	if req.AppID == "" {
		req.AppID = c.AppID
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+notifyPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	sig := c.sign(body)
	httpReq.Header.Set("X-Timestamp", sig.Timestamp)
	httpReq.Header.Set("X-Nonce", sig.Nonce)
	httpReq.Header.Set("X-Signature", sig.Signature)
	if c.SendAPIKey {
		httpReq.Header.Set("Authorization", "Bearer "+c.Secret)
	}

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		msg := "request failed"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return &resp, fmt.Errorf("gateway returned %d: %s", httpResp.StatusCode, msg)
	}
	return &resp, nil
}

func (c *Client) sign(body []byte) Signature {
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce := c.newNonce()
	return Signature{
		Timestamp: timestamp,
		Nonce:     nonce,
		Signature: Sign(c.Secret, http.MethodPost, notifyPath, timestamp, nonce, body),
	}
}
