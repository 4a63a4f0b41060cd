package crypto

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Vector from the Binance API documentation for HMAC SHA256 signed endpoints.
func TestHMACAuth_SignKnownVector(t *testing.T) {
	h := &HMACAuth{Secret: "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"}
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", h.Sign(payload))
}

func TestHMACAuth_SignedQuery(t *testing.T) {
	h := &HMACAuth{Key: "k", Secret: "s", RecvWindow: 5 * time.Second}
	params := url.Values{}
	params.Set("symbol", "BTCUSDT")

	q := h.SignedQuery(params, time.UnixMilli(1700000000000))

	i := strings.LastIndex(q, "&signature=")
	require.Positive(t, i)
	unsigned := q[:i]
	assert.Equal(t, "recvWindow=5000&symbol=BTCUSDT&timestamp=1700000000000", unsigned)
	assert.Equal(t, h.Sign(unsigned), q[i+len("&signature="):])
}

func TestHMACAuth_StringRedacts(t *testing.T) {
	h := &HMACAuth{Key: "abcdefgh", Secret: "xyz"}
	s := h.String()
	assert.Contains(t, s, "abcd****")
	assert.NotContains(t, s, "efgh")
	assert.NotContains(t, s, "xyz")
}
