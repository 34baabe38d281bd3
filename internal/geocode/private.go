package geocode

import "net"

// privateRanges are the IPv4 blocks spec.md §4.4 says must short-circuit to
// "no location" without ever consulting the index: RFC 1918 private space,
// loopback, link-local, multicast, and the remaining reserved blocks.
var privateRanges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // link-local
	"224.0.0.0/4",    // multicast
	"240.0.0.0/4",    // reserved
	"0.0.0.0/8",      // "this" network
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err) // constant list, a parse failure here is a programming error
		}
		out = append(out, n)
	}
	return out
}

// isPrivate reports whether ip falls in one of the short-circuited ranges.
func isPrivate(ip net.IP) bool {
	for _, r := range privateRanges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// ipv4Uint32 converts an IPv4 address to its big-endian uint32 form used as
// the index's range key. Returns ok=false for anything that isn't IPv4.
func ipv4Uint32(ip net.IP) (uint32, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), true
}
