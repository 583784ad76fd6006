/*
Package api implements the pushgate HTTP surface.

The server exposes three routes:

  - POST /v1/notify: signed notification submission
  - GET /health: liveness probe, exempt from rate limiting
  - GET /metrics: Prometheus scrape endpoint

# Admission Pipeline

Every submit request passes the admission chain in a fixed order before the
dispatch handler runs:

 1. Request ID assignment
 2. Panic recovery
 3. Security headers
 4. HTTPS enforcement
 5. IP allowlist
 6. Per-IP rate limiting
 7. Body capture and JSON check
 8. API-key authentication (optional)
 9. HMAC signature and nonce verification (default)

The order matters: cheap network-level checks run before anything touches
the body, and the raw bytes captured at step 7 are exactly the bytes the
HMAC at step 9 verifies.

# Dispatch

The handler validates and normalizes the payload, loads the tenant's
credentials, and hands the request to the provider pool for the requested
platform. The reply reports per-platform counts plus the tokens the
provider classified as permanently undeliverable, so callers can prune
their device registries.

Errors use a single JSON envelope:

	{"ok": false, "error": {"message": "...", "details": ...}}

# Integration Points

  - pkg/middleware: admission chain implementation
  - pkg/validate: payload validation and normalization
  - pkg/apns, pkg/fcm: provider pools
  - pkg/storage: tenant credentials and nonce state
*/
package api
