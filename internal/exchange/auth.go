// auth.go implements HMAC request signing for the venue's private REST API.
//
// Every authenticated request carries four headers:
//
//	FARM-API-KEY     — the API key
//	FARM-TIMESTAMP   — unix seconds, rejected by the venue if skewed > 30s
//	FARM-SIGNATURE   — base64url HMAC-SHA256 over timestamp + method + path + body
//
// The secret is stored base64-encoded; several encodings are tolerated since
// venues are inconsistent about padding.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Auth signs private REST requests with L2 API credentials.
type Auth struct {
	apiKey string
	secret string
}

// NewAuth creates a signer from the configured credentials.
func NewAuth(apiKey, secret string) (*Auth, error) {
	if apiKey == "" || secret == "" {
		return nil, fmt.Errorf("api key and secret are required")
	}
	return &Auth{apiKey: apiKey, secret: secret}, nil
}

// Headers generates the auth headers for one request.
func (a *Auth) Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := a.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}

	return map[string]string{
		"FARM-API-KEY":   a.apiKey,
		"FARM-TIMESTAMP": timestamp,
		"FARM-SIGNATURE": sig,
	}, nil
}

// buildHMAC computes base64url(HMAC-SHA256(secret, timestamp+method+path+body)).
func (a *Auth) buildHMAC(timestamp, method, path, body string) (string, error) {
	secretBytes, err := decodeSecret(a.secret)
	if err != nil {
		return "", err
	}

	message := timestamp + method + path + body
	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// decodeSecret tries the common base64 variants before falling back to the
// raw bytes.
func decodeSecret(secret string) ([]byte, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	for _, enc := range decoders {
		if b, err := enc.DecodeString(secret); err == nil {
			return b, nil
		}
	}
	return []byte(secret), nil
}
