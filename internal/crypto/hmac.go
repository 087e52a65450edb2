package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated venue requests.
// Venues that sign websocket subscriptions use the same scheme over the
// upgrade request path.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret, raw or base64 per the venue
}

// SignedHeaders returns the auth headers for a venue request. The signature
// is HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64. A
// base64-decodable secret is decoded first; otherwise its raw bytes are the
// key.
//
// Returned header keys:
//   - X-API-KEY
//   - X-API-TIMESTAMP
//   - X-API-SIGNATURE
func (h *HMACAuth) SignedHeaders(method, path, body string) map[string]string {
	return h.SignedHeadersAt(method, path, body, time.Now().Unix())
}

// SignedHeadersAt is like SignedHeaders but lets the caller supply the Unix
// timestamp (useful for deterministic testing).
func (h *HMACAuth) SignedHeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	key := []byte(h.Secret)
	if decoded, err := base64.StdEncoding.DecodeString(h.Secret); err == nil {
		key = decoded
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts + method + path + body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"X-API-KEY":       h.Key,
		"X-API-TIMESTAMP": ts,
		"X-API-SIGNATURE": sig,
	}
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
