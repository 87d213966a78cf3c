package lighter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Signer produces per-request auth headers for the exchange API from the
// account's API private key.
type Signer struct {
	privateKey   string
	accountIndex int64
	apiKeyIndex  int64
}

// NewSigner creates a new Signer instance
func NewSigner(privateKey string, accountIndex, apiKeyIndex int64) *Signer {
	return &Signer{
		privateKey:   privateKey,
		accountIndex: accountIndex,
		apiKeyIndex:  apiKeyIndex,
	}
}

// GenerateHeaders creates the auth headers for a request.
// The signed payload is timestamp + method + path + body.
func (s *Signer) GenerateHeaders(method, path, body string) map[string]string {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())

	payload := timestamp + method + path + body
	sign := computeHmacSha256(payload, s.privateKey)

	return map[string]string{
		"X-Api-Timestamp": timestamp,
		"X-Api-Signature": sign,
		"X-Account-Index": fmt.Sprintf("%d", s.accountIndex),
		"X-Api-Key-Index": fmt.Sprintf("%d", s.apiKeyIndex),
		"Content-Type":    "application/json",
	}
}

// SignPayload signs an arbitrary payload string. Exposed for tests.
func (s *Signer) SignPayload(payload string) string {
	return computeHmacSha256(payload, s.privateKey)
}

func computeHmacSha256(payload, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
