package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersAtKnownVector(t *testing.T) {
	auth := &HMACAuth{Key: "svc-key", Secret: "test-secret"}

	headers := auth.HeadersAt("POST", "/v1/trades/buy", `{"amount_sol":0.5}`, 1700000000)

	require.Equal(t, "svc-key", headers["X-Snipe-Api-Key"])
	require.Equal(t, "1700000000", headers["X-Snipe-Timestamp"])
	assert.Equal(t, "ZoX0zJZ3Jo5cYwdbYm5mwbL7cA782MibdK1+/X869Ps=", headers["X-Snipe-Signature"])
}

func TestHeadersAtSignatureCoversEveryPart(t *testing.T) {
	auth := &HMACAuth{Key: "svc-key", Secret: "test-secret"}

	base := auth.HeadersAt("POST", "/v1/trades/buy", "body", 1700000000)

	variants := []map[string]string{
		auth.HeadersAt("GET", "/v1/trades/buy", "body", 1700000000),
		auth.HeadersAt("POST", "/v1/trades/sell", "body", 1700000000),
		auth.HeadersAt("POST", "/v1/trades/buy", "other", 1700000000),
		auth.HeadersAt("POST", "/v1/trades/buy", "body", 1700000001),
	}
	for _, v := range variants {
		assert.NotEqual(t, base["X-Snipe-Signature"], v["X-Snipe-Signature"])
	}

	again := auth.HeadersAt("POST", "/v1/trades/buy", "body", 1700000000)
	assert.Equal(t, base["X-Snipe-Signature"], again["X-Snipe-Signature"])
}

func TestHeadersAtSecretChangesSignature(t *testing.T) {
	a := &HMACAuth{Key: "k", Secret: "one"}
	b := &HMACAuth{Key: "k", Secret: "two"}

	ha := a.HeadersAt("GET", "/v1/prices", "", 1700000000)
	hb := b.HeadersAt("GET", "/v1/prices", "", 1700000000)
	assert.NotEqual(t, ha["X-Snipe-Signature"], hb["X-Snipe-Signature"])
}
