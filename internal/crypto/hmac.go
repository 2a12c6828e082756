// Package crypto provides HMAC request authentication for the trade engine
// sidecar. Signing keys for wallets never enter this process; this package
// only proves to the sidecar that a trade request came from this service.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// HMACAuth signs trade engine requests with a shared secret. The signature
// covers timestamp, method, path, and body, so a captured request cannot be
// replayed against a different endpoint or with a different payload.
type HMACAuth struct {
	Key    string // API key identifying this service
	Secret string // shared HMAC secret
}

// Headers returns the authentication headers for one request. The signature
// is HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
//
// Returned header keys:
//   - X-Snipe-Api-Key
//   - X-Snipe-Timestamp
//   - X-Snipe-Signature
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
// Used by tests that need deterministic signatures.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"X-Snipe-Api-Key":   h.Key,
		"X-Snipe-Timestamp": ts,
		"X-Snipe-Signature": sig,
	}
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
