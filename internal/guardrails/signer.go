package guardrails

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nortal/cmz-chatbots/internal/cryptoutil"
)

// Signer creates and verifies HMAC-SHA256 signatures over config versions.
type Signer struct {
	key []byte
}

// NewSigner creates a signer. Key must be at least 32 raw bytes or 64+ hex characters.
func NewSigner(key string) (*Signer, error) {
	if len(key) >= 64 && len(key)%2 == 0 && cryptoutil.IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("signing key hex decode: %w", err)
		}
		return &Signer{key: decoded}, nil
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("signing key must be at least 32 bytes (got %d)", len(key))
	}
	return &Signer{key: []byte(key)}, nil
}

// Sign creates an HMAC-SHA256 signature for the given data.
func (s *Signer) Sign(data []byte) string {
	h := hmac.New(sha256.New, s.key)
	h.Write(data)
	return "hmac-sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks if a signature is valid for the given data.
func (s *Signer) Verify(data []byte, signature string) bool {
	return hmac.Equal([]byte(s.Sign(data)), []byte(signature))
}

// signedPayload is the canonical byte form covered by a config signature.
func signedPayload(c *Config) ([]byte, error) {
	return json.Marshal(struct {
		ID        string `json:"config_id"`
		Version   int    `json:"version"`
		Name      string `json:"name"`
		Scope     Scope  `json:"scope"`
		Hash      string `json:"hash"`
		CreatedBy string `json:"created_by"`
	}{c.ID, c.Version, c.Name, c.Scope, c.Hash, c.CreatedBy})
}

// contentHash digests the rules and params documents.
func contentHash(rulesJSON, paramsJSON []byte) string {
	h := sha256.New()
	h.Write(rulesJSON)
	h.Write([]byte{0})
	h.Write(paramsJSON)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
