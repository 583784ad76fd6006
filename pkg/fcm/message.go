package fcm

import (
	"time"

	"firebase.google.com/go/v4/messaging"

	"github.com/courierlabs/pushgate/pkg/types"
)

// chunkSize is the largest token batch per multicast call.
const chunkSize = 500

// buildMessage maps the normalized request onto one multicast message for
// the given token chunk. The android block is omitted when empty.
func buildMessage(req *types.SubmitRequest, tokens []string) *messaging.MulticastMessage {
	msg := &messaging.MulticastMessage{Tokens: tokens}

	if req.HasAlert() {
		msg.Notification = &messaging.Notification{
			Title: req.Notification.Title,
			Body:  req.Notification.Body,
		}
	}
	if len(req.Data) > 0 {
		msg.Data = req.Data
	}

	opts := req.FCM
	if opts == nil {
		opts = &types.FCMOptions{}
	}

	android := &messaging.AndroidConfig{}
	populated := false

	ttlSeconds := opts.TTLSeconds
	if ttlSeconds == nil {
		ttlSeconds = req.TTLSeconds
	}
	if ttlSeconds != nil {
		ttl := time.Duration(*ttlSeconds) * time.Second
		android.TTL = &ttl
		populated = true
	}
	if opts.Priority != "" {
		android.Priority = opts.Priority
		populated = true
	}
	if opts.CollapseKey != "" {
		android.CollapseKey = opts.CollapseKey
		populated = true
	}

	if populated {
		msg.Android = android
	}
	return msg
}
