package webhookutils

import (
	"net/http"
	"strings"
)

// Header names used by the messaging provider on webhook deliveries.
const (
	SignatureHeader      = "X-Webhook-Signature"
	IdempotencyKeyHeader = "X-Idempotency-Key"
)

// GetHeaderCaseInsensitive retrieves a header value using case-insensitive key matching.
// Go's HTTP library canonicalizes header keys (e.g. X-Idempotency-Key) which can cause
// exact string matches against provider-sent casing to fail.
func GetHeaderCaseInsensitive(headers http.Header, key string) string {
	if v := headers.Get(key); v != "" {
		return v
	}
	keyLower := strings.ToLower(key)
	for k, values := range headers {
		if strings.ToLower(k) == keyLower && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}
