// Package token implements the hub's two token concerns: verifying the
// shared secret presented in auth.hello, and minting the opaque,
// unique-per-session token returned in auth.ok.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"strings"
	"time"

	"ipchub/internal/ids"
)

const (
	// SharedSecretEnvKey is the environment variable carrying the shared
	// auth secret peers must present in auth.hello.
	SharedSecretEnvKey = "TASKSPRITE_IPC_TOKEN"

	// defaultSharedSecret is used when SharedSecretEnvKey is unset, for
	// local development only.
	defaultSharedSecret = "dev-token"

	// HMACEnvKey, when set, upgrades session-token minting from a bare
	// ULID to an HMAC-SHA256 digest so tokens are not forgeable by a peer
	// that has observed another session's token.
	HMACEnvKey = "IPCHUB_TOKEN_HMAC_KEY"
)

// SharedSecret returns the configured shared secret, falling back to the
// dev default when unset.
func SharedSecret() string {
	v := strings.TrimSpace(os.Getenv(SharedSecretEnvKey))
	if v == "" {
		return defaultSharedSecret
	}
	return v
}

// ValidSharedSecret reports whether provided matches the configured
// shared secret, in constant time.
func ValidSharedSecret(provided string) bool {
	want := SharedSecret()
	return subtle.ConstantTimeCompare([]byte(provided), []byte(want)) == 1
}

// NewSessionToken mints an opaque token for a newly authenticated session.
// It is unique per call (never reused) regardless of mode:
//   - dev mode (IPCHUB_TOKEN_HMAC_KEY unset): a fresh ULID.
//   - HMAC mode (key set): HMAC-SHA256 over sessionID, issuedAt, and a
//     fresh ULID nonce, so the token cannot be replayed or forged from
//     another session's token even if the attacker knows sessionID.
func NewSessionToken(sessionID string, issuedAt time.Time) string {
	nonce := ids.NewULID(issuedAt)

	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		return nonce
	}

	seed := sessionID + "|" + issuedAt.UTC().Format(time.RFC3339Nano) + "|" + nonce
	return hashHMACSHA256Hex(seed, []byte(key))
}

func hashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}
