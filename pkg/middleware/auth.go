package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/courierlabs/pushgate/pkg/httperr"
	"github.com/courierlabs/pushgate/pkg/log"
	"github.com/courierlabs/pushgate/pkg/metrics"
	"github.com/courierlabs/pushgate/pkg/security"
)

const maxNonceLength = 128

// resolveAppID picks the tenant id from the request body, falling back to
// the X-App-Id header.
func resolveAppID(r *http.Request) string {
	raw := RawBody(r)
	if len(raw) > 0 {
		var body struct {
			AppID string `json:"appId"`
		}
		if err := json.Unmarshal(raw, &body); err == nil && body.AppID != "" {
			return body.AppID
		}
	}
	return strings.TrimSpace(r.Header.Get("X-App-Id"))
}

func apiKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}

// APIKeyAuth verifies the caller's API key against the tenant secret in
// constant time and stashes the resolved app id on the request.
func (c *Chain) APIKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.opts.RequireAuth {
			next.ServeHTTP(w, r)
			return
		}

		appID := resolveAppID(r)
		if appID == "" {
			httperr.Write(w, httperr.BadRequest("appId is required"))
			return
		}
		key := apiKey(r)
		if key == "" {
			httperr.Write(w, httperr.Unauthorized("API key required"))
			return
		}

		secret, err := c.opts.Secrets.GetAPISecret(appID)
		if err != nil {
			log.Errorf("failed to load API secret", err)
			httperr.Write(w, httperr.Internal("Internal server error"))
			return
		}
		if secret == "" || !security.SecureCompare(key, secret) {
			httperr.Write(w, httperr.Unauthorized("Invalid API key"))
			return
		}

		next.ServeHTTP(w, WithAuthAppID(r, appID))
	})
}

// HMACVerify checks the request signature over the exact raw body and
// consumes the nonce, guaranteeing at-most-once acceptance per
// (tenant, nonce) within the freshness window.
func (c *Chain) HMACVerify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.opts.RequireHMAC {
			next.ServeHTTP(w, r)
			return
		}

		tsHeader := strings.TrimSpace(r.Header.Get("X-Timestamp"))
		nonce := strings.TrimSpace(r.Header.Get("X-Nonce"))
		sigHeader := strings.TrimSpace(r.Header.Get("X-Signature"))
		if tsHeader == "" || nonce == "" || sigHeader == "" {
			httperr.Write(w, httperr.Unauthorized("Missing HMAC headers"))
			return
		}
		if len(nonce) > maxNonceLength {
			httperr.Write(w, httperr.Unauthorized("Invalid nonce"))
			return
		}
		timestamp, err := strconv.ParseInt(tsHeader, 10, 64)
		if err != nil {
			httperr.Write(w, httperr.Unauthorized("Invalid timestamp"))
			return
		}
		provided, err := hex.DecodeString(sigHeader)
		if err != nil {
			httperr.Write(w, httperr.Unauthorized("Invalid signature"))
			return
		}

		now := c.opts.Now()
		windowMS := c.opts.HMACWindow.Milliseconds()
		skew := now.UnixMilli() - timestamp
		if skew < 0 {
			skew = -skew
		}
		if skew > windowMS {
			httperr.Write(w, httperr.Unauthorized("Request timestamp outside allowed window"))
			return
		}

		appID := AuthAppID(r)
		if appID == "" {
			appID = resolveAppID(r)
		}
		if appID == "" {
			httperr.Write(w, httperr.BadRequest("appId is required"))
			return
		}

		secret, err := c.opts.Secrets.GetAPISecret(appID)
		if err != nil {
			log.Errorf("failed to load API secret", err)
			httperr.Write(w, httperr.Internal("Internal server error"))
			return
		}
		if secret == "" {
			httperr.Write(w, httperr.Unauthorized("Unknown app"))
			return
		}

		canonical := strings.Join([]string{
			r.Method,
			r.URL.Path,
			tsHeader,
			nonce,
			string(RawBody(r)),
		}, "\n")
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(canonical))
		if !hmac.Equal(mac.Sum(nil), provided) {
			httperr.Write(w, httperr.Unauthorized("Invalid signature"))
			return
		}

		expiresAt := time.UnixMilli(timestamp + windowMS)
		ok, err := c.opts.Nonces.ConsumeNonce(appID, nonce, now, expiresAt)
		if err != nil {
			log.Errorf("failed to consume nonce", err)
			httperr.Write(w, httperr.Internal("Internal server error"))
			return
		}
		if !ok {
			metrics.NonceRejectedTotal.Inc()
			httperr.Write(w, httperr.Unauthorized("Nonce already used"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
