package apns

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierlabs/pushgate/pkg/types"
)

func payloadMap(t *testing.T, n *apns2.Notification) map[string]any {
	t.Helper()
	raw, err := json.Marshal(n.Payload)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func aps(t *testing.T, n *apns2.Notification) map[string]any {
	t.Helper()
	m, ok := payloadMap(t, n)["aps"].(map[string]any)
	require.True(t, ok, "payload missing aps dictionary")
	return m
}

func TestBuildNotificationAlert(t *testing.T) {
	now := time.Now()
	req := &types.SubmitRequest{
		AppID:        "com.acme.app",
		Notification: &types.Notification{Title: "Hi", Body: "there"},
		Data:         map[string]string{"k": "v"},
	}
	n := buildNotification(req, "com.acme.app", now)

	assert.Equal(t, "com.acme.app", n.Topic)
	assert.Equal(t, apns2.PushTypeAlert, n.PushType)
	assert.Equal(t, apns2.PriorityHigh, n.Priority)
	assert.WithinDuration(t, now.Add(time.Hour), n.Expiration, time.Second)

	apsDict := aps(t, n)
	alert, ok := apsDict["alert"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Hi", alert["title"])
	assert.Equal(t, "there", alert["body"])
	assert.Equal(t, "default", apsDict["sound"], "alert defaults the sound")
	assert.Equal(t, "v", payloadMap(t, n)["k"], "data map becomes custom payload")
}

func TestBuildNotificationBackground(t *testing.T) {
	req := &types.SubmitRequest{
		AppID: "com.acme.app",
		Data:  map[string]string{"sync": "1"},
		APNS:  &types.APNSOptions{ContentAvailable: true},
	}
	n := buildNotification(req, "com.acme.app", time.Now())

	assert.Equal(t, apns2.PushTypeBackground, n.PushType)
	assert.Equal(t, apns2.PriorityLow, n.Priority)

	apsDict := aps(t, n)
	assert.Nil(t, apsDict["alert"])
	assert.Nil(t, apsDict["sound"], "no sound without an alert")
	assert.EqualValues(t, 1, apsDict["content-available"])
}

func TestBuildNotificationExplicitTypeWins(t *testing.T) {
	req := &types.SubmitRequest{
		AppID:        "com.acme.app",
		Notification: &types.Notification{Title: "Hi"},
		APNS:         &types.APNSOptions{PushType: "background", ContentAvailable: true},
	}
	n := buildNotification(req, "com.acme.app", time.Now())
	assert.Equal(t, apns2.PushTypeBackground, n.PushType)
	assert.Equal(t, apns2.PriorityLow, n.Priority)
}

func TestBuildNotificationOverrides(t *testing.T) {
	badge := 3
	ttl := int64(120)
	req := &types.SubmitRequest{
		AppID:        "com.acme.app",
		TTLSeconds:   &ttl,
		Notification: &types.Notification{Title: "Hi"},
		APNS: &types.APNSOptions{
			Topic:          "com.acme.app.voip",
			Sound:          "chime.caf",
			Category:       "MESSAGE",
			ThreadID:       "thread-9",
			Badge:          &badge,
			MutableContent: true,
		},
	}
	now := time.Now()
	n := buildNotification(req, "com.acme.app", now)

	assert.Equal(t, "com.acme.app.voip", n.Topic)
	assert.WithinDuration(t, now.Add(120*time.Second), n.Expiration, time.Second)

	apsDict := aps(t, n)
	assert.Equal(t, "chime.caf", apsDict["sound"])
	assert.Equal(t, "MESSAGE", apsDict["category"])
	assert.Equal(t, "thread-9", apsDict["thread-id"])
	assert.EqualValues(t, 3, apsDict["badge"])
	assert.EqualValues(t, 1, apsDict["mutable-content"])
}

func TestBuildNotificationTTLCapped(t *testing.T) {
	ttl := int64(7200)
	req := &types.SubmitRequest{
		AppID:        "com.acme.app",
		TTLSeconds:   &ttl,
		Notification: &types.Notification{Title: "Hi"},
	}
	now := time.Now()
	n := buildNotification(req, "com.acme.app", now)
	assert.WithinDuration(t, now.Add(time.Hour), n.Expiration, time.Second)
}
