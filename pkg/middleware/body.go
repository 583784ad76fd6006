package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/courierlabs/pushgate/pkg/httperr"
)

// CaptureBody reads the request body up to the configured cap and stashes
// the exact raw bytes on the request. The HMAC stage verifies against these
// bytes, so nothing downstream may re-serialize the payload.
func (c *Chain) CaptureBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, c.opts.BodyLimit+1))
		if err != nil {
			httperr.Write(w, httperr.BadRequest("Failed to read request body"))
			return
		}
		if int64(len(raw)) > c.opts.BodyLimit {
			httperr.Write(w, httperr.BadRequest("Request body too large"))
			return
		}
		if !json.Valid(raw) {
			httperr.Write(w, httperr.BadRequest("Invalid JSON"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))
		next.ServeHTTP(w, withValue(r, ctxRawBody, raw))
	})
}
