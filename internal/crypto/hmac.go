// Package crypto holds request-signing helpers for venue REST APIs.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// HMACAuth holds API credentials for HMAC-SHA256 query signing as used by
// Binance spot and USDT-margined futures.
type HMACAuth struct {
	Key    string
	Secret string
	// RecvWindow bounds how long a signed request stays valid on the venue
	// side. Zero omits the parameter.
	RecvWindow time.Duration
}

// Sign returns hex(HMAC-SHA256(secret, payload)).
func (h *HMACAuth) Sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedQuery stamps params with timestamp (and recvWindow) at now and
// returns the encoded query with the signature appended last.
func (h *HMACAuth) SignedQuery(params url.Values, now time.Time) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	if h.RecvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(h.RecvWindow.Milliseconds(), 10))
	}
	query := params.Encode()
	return query + "&signature=" + h.Sign(query)
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
