package types

import (
	"time"
)

// Platform identifies the delivery channel for a submit request.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// App is a registered tenant. The ID is a developer-supplied bundle-id
// shaped string and is immutable after creation.
type App struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	APISecret string    `json:"apiSecret"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IOSConfig holds a tenant's APNs credential. PrivateKey is inline PEM;
// path-valued records are rewritten inline on update.
type IOSConfig struct {
	AppID      string    `json:"appId"`
	BundleID   string    `json:"bundleId"`
	TeamID     string    `json:"teamId"`
	KeyID      string    `json:"keyId"`
	PrivateKey string    `json:"privateKey"`
	Production bool      `json:"production"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// AndroidConfig holds a tenant's FCM credential as inline service-account
// JSON.
type AndroidConfig struct {
	AppID          string    `json:"appId"`
	ServiceAccount string    `json:"serviceAccount"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// AppConfig bundles a tenant with its per-platform credentials. Credentials
// whose key material is not inline are omitted.
type AppConfig struct {
	App     *App           `json:"app"`
	IOS     *IOSConfig     `json:"ios,omitempty"`
	Android *AndroidConfig `json:"android,omitempty"`
}

// AdminUser is an admin-surface login. PasswordHash uses the
// scrypt:<salt_hex>:<dk_hex> encoding.
type AdminUser struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AdminSettings is the result of settings bootstrap.
type AdminSettings struct {
	BasePath        string `json:"basePath"`
	SessionSecret   string `json:"sessionSecret"`
	GeneratedPath   bool   `json:"-"`
	GeneratedSecret bool   `json:"-"`
	WeakPath        bool   `json:"-"`
}

// Nonce is a consumed (app, nonce) pair with its validity bounds.
type Nonce struct {
	AppID     string    `json:"appId"`
	Nonce     string    `json:"nonce"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Notification carries the user-visible alert content.
type Notification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// APNSOptions are provider-specific overrides for iOS sends.
type APNSOptions struct {
	Topic            string `json:"topic,omitempty"`
	PushType         string `json:"pushType,omitempty"`
	Sound            string `json:"sound,omitempty"`
	Category         string `json:"category,omitempty"`
	ThreadID         string `json:"threadId,omitempty"`
	Badge            *int   `json:"badge,omitempty"`
	MutableContent   bool   `json:"mutableContent,omitempty"`
	ContentAvailable bool   `json:"contentAvailable,omitempty"`
}

// FCMOptions are provider-specific overrides for Android sends.
type FCMOptions struct {
	TTLSeconds  *int64 `json:"ttlSeconds,omitempty"`
	Priority    string `json:"priority,omitempty"`
	CollapseKey string `json:"collapseKey,omitempty"`
}

// SubmitRequest is the normalized in-memory shape of a validated submit.
// Tokens are deduplicated preserving first occurrence; data values are
// string-coerced.
type SubmitRequest struct {
	AppID        string            `json:"appId"`
	Platform     Platform          `json:"platform"`
	Tokens       []string          `json:"tokens"`
	Notification *Notification     `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	TTLSeconds   *int64            `json:"ttlSeconds,omitempty"`
	APNS         *APNSOptions      `json:"apns,omitempty"`
	FCM          *FCMOptions       `json:"fcm,omitempty"`
}

// HasAlert reports whether the request carries user-visible content.
func (r *SubmitRequest) HasAlert() bool {
	return r.Notification != nil && (r.Notification.Title != "" || r.Notification.Body != "")
}

// SendResult aggregates one platform's delivery outcome. InvalidTokens is
// never nil so callers can treat it uniformly.
type SendResult struct {
	Requested     int      `json:"requested"`
	Sent          int      `json:"sent"`
	Failed        int      `json:"failed"`
	InvalidTokens []string `json:"invalidTokens"`
}
