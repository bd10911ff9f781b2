package webull

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"
)

// requestSigner adds the api-key, timestamp and signature headers.
// The signature is base64(HMAC-SHA256(secret, timestamp + body)).
type requestSigner struct {
	apiKey    string
	apiSecret string
	now       func() time.Time
}

func newRequestSigner(apiKey, apiSecret string) *requestSigner {
	return &requestSigner{apiKey: apiKey, apiSecret: apiSecret, now: time.Now}
}

func (s *requestSigner) sign(req *http.Request, body []byte) {
	if s == nil || s.apiKey == "" {
		return
	}

	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	req.Header.Set("api-key", s.apiKey)
	req.Header.Set("timestamp", timestamp)
	req.Header.Set("signature", signature(s.apiSecret, timestamp, body))
}

func signature(secret, timestamp string, body []byte) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
