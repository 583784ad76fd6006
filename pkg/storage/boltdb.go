package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/courierlabs/pushgate/pkg/security"
	"github.com/courierlabs/pushgate/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketApps           = []byte("apps")
	bucketIOSConfigs     = []byte("ios_configs")
	bucketAndroidConfigs = []byte("android_configs")
	bucketAdminUsers     = []byte("admin_users")
	bucketAdminSettings  = []byte("admin_settings")
	bucketNonces         = []byte("nonces")
)

// Well-known admin settings keys.
var (
	settingBasePath      = []byte("admin_base_path")
	settingSessionSecret = []byte("admin_session_secret")
)

// weakPathWords flag guessable admin mounts.
var weakPathWords = []string{"admin", "panel", "manage", "sys"}

// BoltStore implements Store on top of a bbolt database file.
type BoltStore struct {
	db *bolt.DB

	// Credential-change hooks, fired after a successful write so provider
	// caches can evict stale clients. Registered once at startup.
	onIOSChanged     func(appID string)
	onAndroidChanged func(appID string)
}

// NewBoltStore opens (creating if needed) the database at dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketApps,
			bucketIOSConfigs,
			bucketAndroidConfigs,
			bucketAdminUsers,
			bucketAdminSettings,
			bucketNonces,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// OnIOSConfigChanged registers fn to run whenever a tenant's APNs
// credential is written or removed. Must be called before serving.
func (s *BoltStore) OnIOSConfigChanged(fn func(appID string)) {
	s.onIOSChanged = fn
}

// OnAndroidConfigChanged registers fn to run whenever a tenant's FCM
// credential is written or removed. Must be called before serving.
func (s *BoltStore) OnAndroidConfigChanged(fn func(appID string)) {
	s.onAndroidChanged = fn
}

func (s *BoltStore) notifyIOSChanged(appID string) {
	if s.onIOSChanged != nil {
		s.onIOSChanged(appID)
	}
}

func (s *BoltStore) notifyAndroidChanged(appID string) {
	if s.onAndroidChanged != nil {
		s.onAndroidChanged(appID)
	}
}

// Admin settings

// EnsureAdminSettings provisions the admin base path and session secret.
// It is idempotent: stored values win over desired ones on later startups.
func (s *BoltStore) EnsureAdminSettings(desiredPath, desiredSecret string) (*types.AdminSettings, error) {
	out := &types.AdminSettings{}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAdminSettings)

		if v := b.Get(settingBasePath); v != nil {
			out.BasePath = string(v)
		} else {
			path := desiredPath
			if path == "" {
				path = "/" + security.RandomHex(20)
				out.GeneratedPath = true
			} else {
				normalized, err := normalizeBasePath(path)
				if err != nil {
					return err
				}
				path = normalized
			}
			if err := b.Put(settingBasePath, []byte(path)); err != nil {
				return err
			}
			out.BasePath = path
		}

		if v := b.Get(settingSessionSecret); v != nil {
			out.SessionSecret = string(v)
		} else {
			secret := desiredSecret
			if secret == "" {
				secret = security.RandomHex(64)
				out.GeneratedSecret = true
			}
			if err := b.Put(settingSessionSecret, []byte(secret)); err != nil {
				return err
			}
			out.SessionSecret = secret
		}

		out.WeakPath = weakBasePath(out.BasePath)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeBasePath(path string) (string, error) {
	if strings.ContainsAny(path, " \t\r\n") {
		return "", fmt.Errorf("admin base path must not contain whitespace")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	path = strings.TrimRight(path, "/")
	if path == "" {
		return "", fmt.Errorf("admin base path must not be empty")
	}
	return path, nil
}

func weakBasePath(path string) bool {
	segment := strings.TrimPrefix(path, "/")
	lower := strings.ToLower(segment)
	for _, word := range weakPathWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return len(segment) < 12
}

// Admin users

// EnsureAdminUser inserts the bootstrap admin iff no admin exists yet.
func (s *BoltStore) EnsureAdminUser(username, passwordHash string) (bool, error) {
	if username == "" {
		return false, fmt.Errorf("admin username cannot be empty")
	}
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAdminUsers)
		if b.Stats().KeyN > 0 {
			return nil
		}
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		user := types.AdminUser{
			ID:           int(id),
			Username:     username,
			PasswordHash: passwordHash,
			CreatedAt:    time.Now().UTC(),
		}
		data, err := json.Marshal(&user)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(username), data); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (s *BoltStore) GetAdminByUsername(username string) (*types.AdminUser, error) {
	var user types.AdminUser
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAdminUsers).Get([]byte(username))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) UpdateAdminPassword(username, passwordHash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAdminUsers)
		data := b.Get([]byte(username))
		if data == nil {
			return ErrNotFound
		}
		var user types.AdminUser
		if err := json.Unmarshal(data, &user); err != nil {
			return err
		}
		user.PasswordHash = passwordHash
		updated, err := json.Marshal(&user)
		if err != nil {
			return err
		}
		return b.Put([]byte(username), updated)
	})
}

// Apps

func (s *BoltStore) ListApps() ([]*types.App, error) {
	var apps []*types.App
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApps).ForEach(func(k, v []byte) error {
			var app types.App
			if err := json.Unmarshal(v, &app); err != nil {
				return err
			}
			apps = append(apps, &app)
			return nil
		})
	})
	return apps, err
}

func (s *BoltStore) GetApp(id string) (*types.App, error) {
	var app types.App
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketApps).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &app)
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// GetAPISecret returns the API secret for an enabled app. Missing and
// disabled apps both yield an empty secret with no error.
func (s *BoltStore) GetAPISecret(id string) (string, error) {
	var secret string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketApps).Get([]byte(id))
		if data == nil {
			return nil
		}
		var app types.App
		if err := json.Unmarshal(data, &app); err != nil {
			return err
		}
		if app.Enabled {
			secret = app.APISecret
		}
		return nil
	})
	return secret, err
}

// GetAppConfig returns the tenant credential bundle for an enabled app.
// Credentials whose key material is not inline are omitted so the data
// plane never dereferences a path.
func (s *BoltStore) GetAppConfig(id string) (*types.AppConfig, error) {
	var cfg types.AppConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketApps).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var app types.App
		if err := json.Unmarshal(data, &app); err != nil {
			return err
		}
		if !app.Enabled {
			return ErrNotFound
		}
		cfg.App = &app

		if v := tx.Bucket(bucketIOSConfigs).Get([]byte(id)); v != nil {
			var ios types.IOSConfig
			if err := json.Unmarshal(v, &ios); err != nil {
				return err
			}
			if inlinePEM(ios.PrivateKey) {
				cfg.IOS = &ios
			}
		}
		if v := tx.Bucket(bucketAndroidConfigs).Get([]byte(id)); v != nil {
			var android types.AndroidConfig
			if err := json.Unmarshal(v, &android); err != nil {
				return err
			}
			if validServiceAccount(android.ServiceAccount) {
				cfg.Android = &android
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *BoltStore) CreateApp(app *types.App) error {
	if !ValidAppID(app.ID) {
		return fmt.Errorf("invalid app id %q: must match [A-Za-z0-9._-]+ and contain a dot", app.ID)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApps)
		if b.Get([]byte(app.ID)) != nil {
			return ErrExists
		}
		now := time.Now().UTC()
		if app.CreatedAt.IsZero() {
			app.CreatedAt = now
		}
		app.UpdatedAt = now
		if app.APISecret == "" {
			app.APISecret = security.RandomHex(64)
		}
		data, err := json.Marshal(app)
		if err != nil {
			return err
		}
		return b.Put([]byte(app.ID), data)
	})
}

func (s *BoltStore) UpdateApp(id string, name *string, enabled *bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApps)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var app types.App
		if err := json.Unmarshal(data, &app); err != nil {
			return err
		}
		if name != nil {
			app.Name = *name
		}
		if enabled != nil {
			app.Enabled = *enabled
		}
		app.UpdatedAt = time.Now().UTC()
		updated, err := json.Marshal(&app)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

// DeleteApp removes the app and cascades to its credentials.
func (s *BoltStore) DeleteApp(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApps)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIOSConfigs).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketAndroidConfigs).Delete([]byte(id))
	})
	if err != nil {
		return err
	}
	s.notifyIOSChanged(id)
	s.notifyAndroidChanged(id)
	return nil
}

// RotateSecret atomically replaces the API secret. No history is retained.
func (s *BoltStore) RotateSecret(id string) (string, error) {
	secret := security.RandomHex(64)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApps)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var app types.App
		if err := json.Unmarshal(data, &app); err != nil {
			return err
		}
		app.APISecret = secret
		app.UpdatedAt = time.Now().UTC()
		updated, err := json.Marshal(&app)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
	if err != nil {
		return "", err
	}
	return secret, nil
}

// Credentials

func inlinePEM(s string) bool {
	return strings.Contains(s, "BEGIN PRIVATE KEY") || strings.Contains(s, "BEGIN EC PRIVATE KEY")
}

func validServiceAccount(s string) bool {
	var doc map[string]any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return false
	}
	email, _ := doc["client_email"].(string)
	key, _ := doc["private_key"].(string)
	return email != "" && key != ""
}

// resolveInlinePEM accepts inline PEM as-is and rehydrates legacy
// path-valued key material from disk.
func resolveInlinePEM(value string) (string, error) {
	if inlinePEM(value) {
		return value, nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return "", fmt.Errorf("key material must be inline PEM (BEGIN PRIVATE KEY or BEGIN EC PRIVATE KEY)")
	}
	text := string(data)
	if !inlinePEM(text) {
		return "", fmt.Errorf("file %s does not contain a PEM private key", value)
	}
	return text, nil
}

// resolveServiceAccount accepts inline service-account JSON and rehydrates
// legacy path values.
func resolveServiceAccount(value string) (string, error) {
	if validServiceAccount(value) {
		return value, nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return "", fmt.Errorf("service account must be JSON with client_email and private_key")
	}
	text := string(data)
	if !validServiceAccount(text) {
		return "", fmt.Errorf("file %s does not contain a valid service account", value)
	}
	return text, nil
}

func (s *BoltStore) UpsertIOSConfig(cfg *types.IOSConfig) error {
	key, err := resolveInlinePEM(cfg.PrivateKey)
	if err != nil {
		return err
	}
	cfg.PrivateKey = key
	if cfg.BundleID == "" {
		cfg.BundleID = cfg.AppID
	}
	cfg.UpdatedAt = time.Now().UTC()

	err = s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketApps).Get([]byte(cfg.AppID)) == nil {
			return ErrNotFound
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIOSConfigs).Put([]byte(cfg.AppID), data)
	})
	if err != nil {
		return err
	}
	s.notifyIOSChanged(cfg.AppID)
	return nil
}

func (s *BoltStore) DeleteIOSConfig(appID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIOSConfigs).Delete([]byte(appID))
	})
	if err != nil {
		return err
	}
	s.notifyIOSChanged(appID)
	return nil
}

func (s *BoltStore) UpsertAndroidConfig(cfg *types.AndroidConfig) error {
	doc, err := resolveServiceAccount(cfg.ServiceAccount)
	if err != nil {
		return err
	}
	cfg.ServiceAccount = doc
	cfg.UpdatedAt = time.Now().UTC()

	err = s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketApps).Get([]byte(cfg.AppID)) == nil {
			return ErrNotFound
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAndroidConfigs).Put([]byte(cfg.AppID), data)
	})
	if err != nil {
		return err
	}
	s.notifyAndroidChanged(cfg.AppID)
	return nil
}

func (s *BoltStore) DeleteAndroidConfig(appID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAndroidConfigs).Delete([]byte(appID))
	})
	if err != nil {
		return err
	}
	s.notifyAndroidChanged(appID)
	return nil
}

// Nonces

func nonceKey(appID, nonce string) []byte {
	key := make([]byte, 0, len(appID)+1+len(nonce))
	key = append(key, appID...)
	key = append(key, 0)
	key = append(key, nonce...)
	return key
}

// ConsumeNonce purges expired rows and conditionally inserts the
// (appID, nonce) pair. Both steps run in one write transaction; bbolt
// serializes writers, so at most one concurrent caller observes true for a
// given pair within its validity window.
func (s *BoltStore) ConsumeNonce(appID, nonce string, now, expiresAt time.Time) (bool, error) {
	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNonces)

		var stale [][]byte
		cursor := b.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var row types.Nonce
			if err := json.Unmarshal(v, &row); err != nil || !row.ExpiresAt.After(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		key := nonceKey(appID, nonce)
		if b.Get(key) != nil {
			return nil
		}
		data, err := json.Marshal(&types.Nonce{
			AppID:     appID,
			Nonce:     nonce,
			CreatedAt: now,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return err
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}
