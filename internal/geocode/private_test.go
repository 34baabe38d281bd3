package geocode

import (
	"net"
	"testing"
)

func TestIsPrivate(t *testing.T) {
	cases := map[string]bool{
		"10.1.2.3":     true,
		"172.16.0.5":   true,
		"192.168.1.1":  true,
		"127.0.0.1":    true,
		"169.254.1.1":  true,
		"8.8.8.8":      false,
		"203.0.113.10": false,
	}
	for addr, want := range cases {
		got := isPrivate(net.ParseIP(addr))
		if got != want {
			t.Errorf("isPrivate(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestIPv4Uint32RoundTrip(t *testing.T) {
	ip := net.ParseIP("8.8.4.4")
	key, ok := ipv4Uint32(ip)
	if !ok {
		t.Fatal("expected ok for IPv4 address")
	}
	want := uint32(8)<<24 | uint32(8)<<16 | uint32(4)<<8 | uint32(4)
	if key != want {
		t.Fatalf("ipv4Uint32 = %d, want %d", key, want)
	}
}

func TestIPv4Uint32RejectsIPv6(t *testing.T) {
	if _, ok := ipv4Uint32(net.ParseIP("2001:db8::1")); ok {
		t.Fatal("expected ok=false for an IPv6 address")
	}
}
