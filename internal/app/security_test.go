package app

import "testing"

func TestValidateListenAddrAcceptsLoopback(t *testing.T) {
	t.Parallel()

	for _, addr := range []string{"127.0.0.1:17171", "localhost:17171", "[::1]:17171"} {
		if err := ValidateListenAddr(addr); err != nil {
			t.Fatalf("ValidateListenAddr(%q): unexpected error: %v", addr, err)
		}
	}
}

func TestValidateListenAddrRejectsNonLoopback(t *testing.T) {
	t.Parallel()

	cases := []string{"0.0.0.0:17171", "[::]:17171", "10.0.0.5:17171", "example.com:17171"}
	for _, addr := range cases {
		if err := ValidateListenAddr(addr); err == nil {
			t.Fatalf("ValidateListenAddr(%q): expected error, got nil", addr)
		}
	}
}

func TestValidateListenAddrRejectsMalformed(t *testing.T) {
	t.Parallel()

	if err := ValidateListenAddr("not-a-host-port"); err == nil {
		t.Fatalf("expected error for malformed addr")
	}
}
