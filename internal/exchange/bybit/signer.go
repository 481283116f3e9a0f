package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the v5 request signature: HMAC-SHA256 of
// timestamp + apiKey + recvWindow + payload, where payload is the
// query string for GET requests and the JSON body for POST.
func Sign(secret, ts, apiKey, recvWindow, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}
