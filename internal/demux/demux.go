// Package demux classifies datagrams arriving on the shared media socket by
// their first byte.
package demux

// Protocol is the class of a datagram.
type Protocol uint8

const (
	Unknown Protocol = iota
	// Connectivity is a connectivity-check (STUN) message.
	Connectivity
	// Handshake is a DTLS record.
	Handshake
	// Media is an RTP or RTCP packet, protected or not.
	Media
)

func (p Protocol) String() string {
	switch p {
	case Connectivity:
		return "connectivity"
	case Handshake:
		return "handshake"
	case Media:
		return "media"
	default:
		return "unknown"
	}
}

// Classify returns the protocol of a nonempty datagram. An empty datagram is
// Unknown; callers drop empty datagrams before classifying.
func Classify(b []byte) Protocol {
	if len(b) == 0 {
		return Unknown
	}
	switch first := b[0]; {
	case first <= 1:
		return Connectivity
	case first >= 20 && first <= 63:
		return Handshake
	case first >= 128 && first <= 191:
		return Media
	default:
		return Unknown
	}
}
