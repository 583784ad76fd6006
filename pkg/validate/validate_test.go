package validate

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierlabs/pushgate/pkg/httperr"
	"github.com/courierlabs/pushgate/pkg/types"
)

func validPayload(overrides map[string]any) []byte {
	payload := map[string]any{
		"appId":    "com.acme.app",
		"platform": "ios",
		"tokens":   []string{"t1", "t2"},
		"notification": map[string]any{
			"title": "Hi",
			"body":  "there",
		},
	}
	for k, v := range overrides {
		if v == nil {
			delete(payload, k)
		} else {
			payload[k] = v
		}
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func TestSubmitRequestHappyPath(t *testing.T) {
	req, err := SubmitRequest(validPayload(nil))
	require.NoError(t, err)
	assert.Equal(t, "com.acme.app", req.AppID)
	assert.Equal(t, types.PlatformIOS, req.Platform)
	assert.Equal(t, []string{"t1", "t2"}, req.Tokens)
	require.NotNil(t, req.Notification)
	assert.Equal(t, "Hi", req.Notification.Title)
}

func TestSubmitRequestRejections(t *testing.T) {
	tests := []struct {
		name      string
		raw       []byte
		wantInMsg string
	}{
		{"not an object", []byte(`[1,2]`), "JSON object"},
		{"missing appId", validPayload(map[string]any{"appId": nil}), "appId is required"},
		{"appId wrong type", validPayload(map[string]any{"appId": 42}), "appId must be a string"},
		{"appId bad shape", validPayload(map[string]any{"appId": "noseparator"}), "invalid appId"},
		{"broadcast", validPayload(map[string]any{"broadcast": true}), "broadcast is not supported"},
		{"bad platform", validPayload(map[string]any{"platform": "web"}), "platform must be ios or android"},
		{"missing tokens", validPayload(map[string]any{"tokens": nil}), "tokens are required"},
		{"tokens not array", validPayload(map[string]any{"tokens": "t1"}), "array of strings"},
		{"empty tokens", validPayload(map[string]any{"tokens": []string{}}), "non-empty"},
		{"empty token value", validPayload(map[string]any{"tokens": []string{""}}), "empty strings"},
		{"negative ttl", validPayload(map[string]any{"ttlSeconds": -5}), "ttlSeconds"},
		{"bad data value", validPayload(map[string]any{"data": map[string]any{"k": map[string]any{"nested": true}}}), "scalar"},
		{"null data value", validPayload(map[string]any{"data": map[string]any{"k": nil}}), "scalar"},
		{"bad push type", validPayload(map[string]any{"apns": map[string]any{"pushType": "voip"}}), "pushType"},
		{"bad fcm priority", validPayload(map[string]any{"fcm": map[string]any{"priority": "urgent"}}), "priority"},
		{
			"no content",
			validPayload(map[string]any{"notification": nil}),
			"notification or data is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SubmitRequest(tt.raw)
			require.Error(t, err)
			var he *httperr.Error
			require.ErrorAs(t, err, &he)
			assert.Equal(t, 400, he.Status)
			assert.Contains(t, he.Message, tt.wantInMsg)
		})
	}
}

func TestSubmitRequestTokenDedup(t *testing.T) {
	req, err := SubmitRequest(validPayload(map[string]any{
		"tokens": []string{"b", "a", "b", "c", "a"},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, req.Tokens, "first occurrence order preserved")
}

func TestSubmitRequestTokenBounds(t *testing.T) {
	many := func(n int) []string {
		tokens := make([]string, n)
		for i := range tokens {
			tokens[i] = fmt.Sprintf("token-%04d", i)
		}
		return tokens
	}

	_, err := SubmitRequest(validPayload(map[string]any{"tokens": many(500)}))
	assert.NoError(t, err, "exactly 500 unique tokens accepted")

	_, err = SubmitRequest(validPayload(map[string]any{"tokens": many(501)}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokens cannot exceed 500")

	// Duplicates over the limit collapse below it.
	tokens := many(500)
	tokens = append(tokens, tokens[0])
	_, err = SubmitRequest(validPayload(map[string]any{"tokens": tokens}))
	assert.NoError(t, err)
}

func TestSubmitRequestTokenLength(t *testing.T) {
	_, err := SubmitRequest(validPayload(map[string]any{
		"tokens": []string{strings.Repeat("x", 4096)},
	}))
	assert.NoError(t, err, "token of exactly 4096 chars accepted")

	_, err = SubmitRequest(validPayload(map[string]any{
		"tokens": []string{strings.Repeat("x", 4097)},
	}))
	assert.Error(t, err)
}

func TestSubmitRequestTitleBodyBounds(t *testing.T) {
	_, err := SubmitRequest(validPayload(map[string]any{
		"notification": map[string]any{"title": strings.Repeat("t", 257)},
	}))
	assert.Error(t, err)

	_, err = SubmitRequest(validPayload(map[string]any{
		"notification": map[string]any{"body": strings.Repeat("b", 2049)},
	}))
	assert.Error(t, err)
}

func TestSubmitRequestTrimsAndDropsEmptyNotification(t *testing.T) {
	req, err := SubmitRequest(validPayload(map[string]any{
		"notification": map[string]any{"title": "  Hi  ", "body": "\tthere\n"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "Hi", req.Notification.Title)
	assert.Equal(t, "there", req.Notification.Body)

	// Whitespace-only notification collapses to nothing; data keeps the
	// request valid.
	req, err = SubmitRequest(validPayload(map[string]any{
		"notification": map[string]any{"title": "   "},
		"data":         map[string]any{"k": "v"},
	}))
	require.NoError(t, err)
	assert.Nil(t, req.Notification)
}

func TestSubmitRequestDataCoercion(t *testing.T) {
	req, err := SubmitRequest(validPayload(map[string]any{
		"data": map[string]any{
			"str":   "v",
			"int":   42,
			"float": 1.5,
			"bool":  true,
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"str":   "v",
		"int":   "42",
		"float": "1.5",
		"bool":  "true",
	}, req.Data)
}

func TestSubmitRequestProviderBlocks(t *testing.T) {
	req, err := SubmitRequest(validPayload(map[string]any{
		"ttlSeconds": 120,
		"apns": map[string]any{
			"topic":            "com.acme.app.voip",
			"pushType":         "background",
			"contentAvailable": true,
		},
		"fcm": map[string]any{
			"priority":    "high",
			"collapseKey": "updates",
			"ttlSeconds":  60,
		},
	}))
	require.NoError(t, err)
	require.NotNil(t, req.TTLSeconds)
	assert.EqualValues(t, 120, *req.TTLSeconds)
	require.NotNil(t, req.APNS)
	assert.Equal(t, "background", req.APNS.PushType)
	assert.True(t, req.APNS.ContentAvailable)
	require.NotNil(t, req.FCM)
	assert.Equal(t, "high", req.FCM.Priority)
	require.NotNil(t, req.FCM.TTLSeconds)
	assert.EqualValues(t, 60, *req.FCM.TTLSeconds)
}
