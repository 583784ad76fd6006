/*
Package middleware implements the gateway's admission chain.

Each stage is an ordinary net/http middleware constructed from a shared
Chain, so the server composes them in whatever order it needs. The stages
are:

  - SecurityHeaders: unconditional hardening headers
  - EnforceHTTPS: rejects plaintext unless a trusted proxy says otherwise
  - IPAllowlist: exact-match client IP screening
  - RateLimit: fixed-window per-IP counter with X-RateLimit-* headers
  - CaptureBody: bounded read of the raw body, stashed for verification
  - APIKeyAuth: constant-time tenant secret check
  - HMACVerify: signature over the exact raw bytes plus one-time nonce

# HMAC Canonical Form

The signature covers method, path, timestamp, nonce and the raw body,
joined with newlines:

	POST\n/v1/notify\n1700000000000\n<nonce>\n<body>

Verification uses the bytes captured by CaptureBody, never a re-encoded
payload. A proxy that rewrites the body invalidates the signature.

Nonce consumption is delegated to the store, which accepts each
(tenant, nonce) pair at most once per freshness window.
*/
package middleware
