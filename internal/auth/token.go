package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Token format: ins_ops_{secret}
// Example: ins_ops_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b
const (
	TokenPrefix    = "ins_ops_"
	TokenSecretLen = 32 // hex encoded 16 bytes
)

var tokenFormatRegex = regexp.MustCompile(`^ins_ops_[a-f0-9]{32}$`)

// GeneratedToken contains a newly generated operations token.
type GeneratedToken struct {
	Plaintext string // show once only
	Hash      string // value for ADMIN_TOKEN_HASH
}

// GenerateToken creates a random operations token and its hash.
func GenerateToken() (*GeneratedToken, error) {
	secret := make([]byte, TokenSecretLen/2)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	plaintext := TokenPrefix + hex.EncodeToString(secret)

	hash, err := HashToken(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash token: %w", err)
	}
	return &GeneratedToken{Plaintext: plaintext, Hash: hash}, nil
}

// ValidTokenFormat reports whether token looks like a generated token.
func ValidTokenFormat(token string) bool {
	return tokenFormatRegex.MatchString(token)
}
