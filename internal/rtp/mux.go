package rtp

// IsControl reports whether a datagram that classified as media traffic is
// actually a control packet multiplexed onto the same port (RFC 5761 §4). The
// second byte of a control packet is its packet type, which lands in ranges the
// media payload types leave unused once the marker bit is folded in.
func IsControl(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	pt := b[1]
	switch {
	case pt >= 200 && pt <= 204:
		return true
	case pt >= 194 && pt <= 199:
		return true
	case pt >= 209 && pt <= 223:
		return true
	default:
		return false
	}
}
