package storage

import (
	"errors"
	"regexp"
	"time"

	"github.com/courierlabs/pushgate/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist. A disabled app
	// is reported as not found on the data-plane read paths so the edge
	// cannot distinguish disabled from deleted.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when creating a record whose key is taken.
	ErrExists = errors.New("already exists")
)

// appIDPattern is the bundle-id shape: [A-Za-z0-9._-]+ with at least one dot.
var appIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidAppID reports whether id has the required bundle-id shape.
func ValidAppID(id string) bool {
	if !appIDPattern.MatchString(id) {
		return false
	}
	for _, r := range id {
		if r == '.' {
			return true
		}
	}
	return false
}

// Store is the durable tenant-credential and nonce store.
type Store interface {
	EnsureAdminSettings(desiredPath, desiredSecret string) (*types.AdminSettings, error)
	EnsureAdminUser(username, passwordHash string) (created bool, err error)
	GetAdminByUsername(username string) (*types.AdminUser, error)
	UpdateAdminPassword(username, passwordHash string) error

	ListApps() ([]*types.App, error)
	GetApp(id string) (*types.App, error)
	GetAppConfig(id string) (*types.AppConfig, error)
	GetAPISecret(id string) (string, error)
	CreateApp(app *types.App) error
	UpdateApp(id string, name *string, enabled *bool) error
	DeleteApp(id string) error
	RotateSecret(id string) (string, error)

	UpsertIOSConfig(cfg *types.IOSConfig) error
	DeleteIOSConfig(appID string) error
	UpsertAndroidConfig(cfg *types.AndroidConfig) error
	DeleteAndroidConfig(appID string) error

	ConsumeNonce(appID, nonce string, now, expiresAt time.Time) (bool, error)

	Close() error
}
