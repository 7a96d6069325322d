package rtcp

// ApplicationDefined carries opaque, application-specific data.
type ApplicationDefined struct {
	// Subtype occupies the 5-bit count field.
	Subtype uint8
	SSRC    uint32
	// Name is a 4-character ASCII identifier.
	Name string
	// Data of any length. When it is not a multiple of 4 bytes the packet is
	// encoded with the padding flag set and padding appended.
	Data []byte
}

func (*ApplicationDefined) Type() PacketType { return TypeApplicationDefined }
func (*ApplicationDefined) packet()          {}

func (p *ApplicationDefined) Len() int {
	return HeaderLen + 4 + 4 + pad4(len(p.Data))
}

// padding returns how many padding bytes follow Data on the wire.
func (p *ApplicationDefined) padding() int {
	return pad4(len(p.Data)) - len(p.Data)
}
