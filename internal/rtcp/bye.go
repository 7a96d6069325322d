package rtcp

// Goodbye announces that one or more sources are leaving the session.
type Goodbye struct {
	Sources []uint32
	// Reason is optional. It is carried as a length-prefixed string padded to
	// the next 32-bit boundary; a reason sent without the length prefix is not
	// accepted.
	Reason string
}

func (*Goodbye) Type() PacketType { return TypeGoodbye }
func (*Goodbye) packet()          {}

func (p *Goodbye) Len() int {
	n := HeaderLen + 4*len(p.Sources)
	if p.Reason != "" {
		n += pad4(1 + len(p.Reason))
	}
	return n
}
