package validate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/courierlabs/pushgate/pkg/httperr"
	"github.com/courierlabs/pushgate/pkg/storage"
	"github.com/courierlabs/pushgate/pkg/types"
)

const (
	maxTokens      = 500
	maxTokenLength = 4096
	maxTitleLength = 256
	maxBodyLength  = 2048
)

// SubmitRequest validates and normalizes the raw submit payload. Tokens are
// deduplicated preserving first occurrence, title/body are trimmed and
// dropped when empty, and data values are coerced to strings.
func SubmitRequest(raw []byte) (*types.SubmitRequest, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, httperr.BadRequest("request body must be a JSON object")
	}

	appID, err := stringField(payload, "appId")
	if err != nil {
		return nil, err
	}
	if appID == "" {
		return nil, httperr.BadRequest("appId is required")
	}
	if !storage.ValidAppID(appID) {
		return nil, httperr.BadRequest("invalid appId")
	}

	if rawBroadcast, ok := payload["broadcast"]; ok {
		var broadcast bool
		if err := json.Unmarshal(rawBroadcast, &broadcast); err != nil || broadcast {
			return nil, httperr.BadRequest("broadcast is not supported")
		}
	}

	platform, err := stringField(payload, "platform")
	if err != nil {
		return nil, err
	}
	if platform != string(types.PlatformIOS) && platform != string(types.PlatformAndroid) {
		return nil, httperr.BadRequest("platform must be ios or android")
	}

	tokens, err := normalizeTokens(payload)
	if err != nil {
		return nil, err
	}

	notification, err := normalizeNotification(payload)
	if err != nil {
		return nil, err
	}

	data, err := normalizeData(payload)
	if err != nil {
		return nil, err
	}

	if notification == nil && len(data) == 0 {
		return nil, httperr.BadRequest("notification or data is required")
	}

	req := &types.SubmitRequest{
		AppID:        appID,
		Platform:     types.Platform(platform),
		Tokens:       tokens,
		Notification: notification,
		Data:         data,
	}

	if rawTTL, ok := payload["ttlSeconds"]; ok {
		ttl, err := nonNegativeInt(rawTTL)
		if err != nil {
			return nil, httperr.BadRequest("ttlSeconds must be a non-negative integer")
		}
		req.TTLSeconds = &ttl
	}

	if rawAPNS, ok := payload["apns"]; ok {
		var opts types.APNSOptions
		if err := json.Unmarshal(rawAPNS, &opts); err != nil {
			return nil, httperr.BadRequest("invalid apns options")
		}
		if opts.PushType != "" && opts.PushType != "alert" && opts.PushType != "background" {
			return nil, httperr.BadRequest("apns.pushType must be alert or background")
		}
		req.APNS = &opts
	}

	if rawFCM, ok := payload["fcm"]; ok {
		var opts types.FCMOptions
		if err := json.Unmarshal(rawFCM, &opts); err != nil {
			return nil, httperr.BadRequest("invalid fcm options")
		}
		if opts.Priority != "" && opts.Priority != "high" && opts.Priority != "normal" {
			return nil, httperr.BadRequest("fcm.priority must be high or normal")
		}
		if opts.TTLSeconds != nil && *opts.TTLSeconds < 0 {
			return nil, httperr.BadRequest("fcm.ttlSeconds must be non-negative")
		}
		req.FCM = &opts
	}

	return req, nil
}

func stringField(payload map[string]json.RawMessage, key string) (string, error) {
	raw, ok := payload[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", httperr.BadRequest(fmt.Sprintf("%s must be a string", key))
	}
	return s, nil
}

func normalizeTokens(payload map[string]json.RawMessage) ([]string, error) {
	raw, ok := payload["tokens"]
	if !ok {
		return nil, httperr.BadRequest("tokens are required")
	}
	var tokens []string
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, httperr.BadRequest("tokens must be an array of strings")
	}
	if len(tokens) == 0 {
		return nil, httperr.BadRequest("tokens must be a non-empty array")
	}

	seen := make(map[string]struct{}, len(tokens))
	deduped := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			return nil, httperr.BadRequest("tokens must not be empty strings")
		}
		if len(token) > maxTokenLength {
			return nil, httperr.BadRequest(fmt.Sprintf("tokens cannot exceed %d characters", maxTokenLength))
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		deduped = append(deduped, token)
	}
	if len(deduped) > maxTokens {
		return nil, httperr.BadRequest(fmt.Sprintf("tokens cannot exceed %d", maxTokens))
	}
	return deduped, nil
}

func normalizeNotification(payload map[string]json.RawMessage) (*types.Notification, error) {
	raw, ok := payload["notification"]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var n types.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, httperr.BadRequest("notification must be an object with title and body strings")
	}
	n.Title = strings.TrimSpace(n.Title)
	n.Body = strings.TrimSpace(n.Body)
	if len(n.Title) > maxTitleLength {
		return nil, httperr.BadRequest(fmt.Sprintf("notification.title cannot exceed %d characters", maxTitleLength))
	}
	if len(n.Body) > maxBodyLength {
		return nil, httperr.BadRequest(fmt.Sprintf("notification.body cannot exceed %d characters", maxBodyLength))
	}
	if n.Title == "" && n.Body == "" {
		return nil, nil
	}
	return &n, nil
}

// normalizeData accepts a flat string-keyed map of scalar values and
// coerces every value to a string. Nulls and nested values are rejected.
func normalizeData(payload map[string]json.RawMessage) (map[string]string, error) {
	raw, ok := payload["data"]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, httperr.BadRequest("data must be a flat object")
	}
	if len(entries) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(entries))
	for key, value := range entries {
		coerced, err := coerceScalar(value)
		if err != nil {
			return nil, httperr.BadRequest(fmt.Sprintf("data.%s must be a scalar value", key))
		}
		out[key] = coerced
	}
	return out, nil
}

func coerceScalar(raw json.RawMessage) (string, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		// nil, objects and arrays are not scalars
		return "", fmt.Errorf("not a scalar")
	}
}

func nonNegativeInt(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative")
	}
	return n, nil
}
