package mt5bridge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Credentials 桥接服务的 API 凭证
type Credentials struct {
	apiKey    string
	apiSecret string
}

func NewCredentials(apiKey, apiSecret string) *Credentials {
	return &Credentials{apiKey: apiKey, apiSecret: apiSecret}
}

// Sign 生成 hex(HMAC-SHA256(timestamp + method + path + body, secret))
func (c *Credentials) Sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Credentials) APIKey() string { return c.apiKey }
