package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// generateVerifier produces a high-entropy PKCE code verifier per RFC 7636.
func generateVerifier() (string, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// challengeS256 derives the S256 code challenge from a verifier.
func challengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// encodeState builds the anti-CSRF state parameter. It embeds the user id
// and issue time plus a random nonce, and is opaque to the client.
func encodeState(userID string) (string, error) {
	return encodeStateAt(userID, time.Now())
}

func encodeStateAt(userID string, issuedAt time.Time) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	raw := fmt.Sprintf("%s|%d|%s", userID, issuedAt.UnixNano(),
		base64.RawURLEncoding.EncodeToString(nonce))
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// decodeState recovers the embedded user id and issue time. Any structural
// problem is reported as a decode failure; callers treat that as a state
// mismatch.
func decodeState(state string) (string, time.Time, error) {
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("state is not valid base64: %w", err)
	}

	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 {
		return "", time.Time{}, fmt.Errorf("state has %d parts, want 3", len(parts))
	}

	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("state timestamp is malformed: %w", err)
	}

	return parts[0], time.Unix(0, nanos), nil
}
