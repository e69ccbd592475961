package app

import (
	"errors"
	"net"
	"os"
	"strings"

	"ipchub/internal/token"
)

// minHMACKeyBytes is the minimum length recommended for an HMAC-SHA256
// key; shorter keys are rejected rather than silently accepted.
const minHMACKeyBytes = 32

// ValidateSecurityConfig enforces the hub's token security policy at
// startup. When RequireTokenHMAC is set, operators must configure
// IPCHUB_TOKEN_HMAC_KEY so session tokens are HMAC-backed rather than
// bare ULIDs, which are unforgeable but not proof of hub issuance.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	key := strings.TrimSpace(os.Getenv(token.HMACEnvKey))
	if key == "" {
		return errors.New("security policy: IPCHUB_REQUIRE_TOKEN_HMAC=true but " + token.HMACEnvKey + " is missing")
	}
	if len(key) < minHMACKeyBytes {
		return errors.New("security policy: IPCHUB_REQUIRE_TOKEN_HMAC=true but " + token.HMACEnvKey + " is too short (min 32 bytes)")
	}

	return nil
}

// loopbackHosts are the host forms ValidateListenAddr accepts. Wildcard
// binds (0.0.0.0, ::, an empty host) are rejected even though
// runtimeBaseURL/wsBaseURL still normalize them for display purposes.
var loopbackHosts = map[string]bool{
	"127.0.0.1": true,
	"localhost": true,
	"::1":       true,
}

// ValidateListenAddr enforces spec.md §6's "non-loopback binds are a
// configuration error": addr's host must resolve to one of
// loopbackHosts. Operators who need the hub reachable beyond localhost
// are expected to front it with a reverse proxy, not widen the bind.
func ValidateListenAddr(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return errors.New("security policy: IPCHUB_HTTP_ADDR must be host:port: " + err.Error())
	}
	if !loopbackHosts[host] {
		return errors.New("security policy: IPCHUB_HTTP_ADDR must bind a loopback address (127.0.0.1, localhost, ::1), got " + host)
	}
	return nil
}
