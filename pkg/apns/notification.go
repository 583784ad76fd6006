package apns

import (
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"

	"github.com/courierlabs/pushgate/pkg/types"
)

// defaultExpiry bounds how long APNs holds an undelivered notification.
// Caller-supplied TTLs are capped at this value.
const defaultExpiry = time.Hour

// buildNotification constructs the notification template shared by every
// token in the request. DeviceToken is filled in per push.
func buildNotification(req *types.SubmitRequest, bundleID string, now time.Time) *apns2.Notification {
	opts := req.APNS
	if opts == nil {
		opts = &types.APNSOptions{}
	}

	topic := opts.Topic
	if topic == "" {
		topic = bundleID
	}

	hasAlert := req.HasAlert()

	p := payload.NewPayload()
	if hasAlert {
		if req.Notification.Title != "" {
			p.AlertTitle(req.Notification.Title)
		}
		if req.Notification.Body != "" {
			p.AlertBody(req.Notification.Body)
		}
	}
	for key, value := range req.Data {
		p.Custom(key, value)
	}

	pushType := opts.PushType
	if pushType == "" {
		if opts.ContentAvailable && !hasAlert {
			pushType = string(apns2.PushTypeBackground)
		} else {
			pushType = string(apns2.PushTypeAlert)
		}
	}

	if opts.Sound != "" {
		p.Sound(opts.Sound)
	} else if hasAlert {
		p.Sound("default")
	}
	if opts.Badge != nil {
		p.Badge(*opts.Badge)
	}
	if opts.Category != "" {
		p.Category(opts.Category)
	}
	if opts.ThreadID != "" {
		p.ThreadID(opts.ThreadID)
	}
	if opts.MutableContent {
		p.MutableContent()
	}
	if opts.ContentAvailable {
		p.ContentAvailable()
	}

	ttl := defaultExpiry
	if req.TTLSeconds != nil {
		ttl = time.Duration(*req.TTLSeconds) * time.Second
		if ttl > defaultExpiry {
			ttl = defaultExpiry
		}
	}
	expiration := now.Add(ttl)

	priority := apns2.PriorityHigh
	if pushType == string(apns2.PushTypeBackground) {
		priority = apns2.PriorityLow
	}

	return &apns2.Notification{
		Topic:      topic,
		Payload:    p,
		Expiration: expiration,
		Priority:   priority,
		PushType:   apns2.EPushType(pushType),
	}
}
