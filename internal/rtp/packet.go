package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderLen is the size of the fixed header, before contributing sources and
	// any header extension.
	HeaderLen = 12

	// Version is the only protocol version this codec accepts.
	Version = 2

	// MaxCSRC is the largest contributing-source count the 4-bit field can carry.
	MaxCSRC = 15

	extensionHeaderLen = 4
)

var (
	ErrMalformed     = errors.New("rtp: malformed packet")
	ErrTooManyCSRC   = errors.New("rtp: too many contributing sources")
	ErrPayloadType   = errors.New("rtp: payload type out of range")
	ErrExtensionSize = errors.New("rtp: header extension not a multiple of 4 bytes")
)

// Packet is a decoded media packet.
//
// Payload and Raw alias the buffer passed to Decode. Nothing is copied, so the
// caller must not reuse that buffer while the Packet is in use.
type Packet struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32

	// ExtensionProfile and ExtensionPayload are only meaningful when Extension
	// is set. ExtensionPayload excludes the 4-byte extension header.
	ExtensionProfile uint16
	ExtensionPayload []byte

	Payload []byte
	Raw     []byte
}

// HeaderSize returns the number of header bytes that precede the payload.
func (p Packet) HeaderSize() int {
	n := HeaderLen + 4*len(p.CSRC)
	if p.Extension {
		n += extensionHeaderLen + len(p.ExtensionPayload)
	}
	return n
}

// PayloadOffset returns the offset of Payload within Raw.
func (p Packet) PayloadOffset() int {
	return len(p.Raw) - len(p.Payload)
}

// Decode parses b. The returned packet's Payload and Raw reference b.
func Decode(b []byte) (Packet, error) {
	if len(b) < HeaderLen {
		return Packet{}, fmt.Errorf("%w: %d bytes < %d", ErrMalformed, len(b), HeaderLen)
	}

	p := Packet{
		Version:        b[0] >> 6,
		Padding:        b[0]&0x20 != 0,
		Extension:      b[0]&0x10 != 0,
		Marker:         b[1]&0x80 != 0,
		PayloadType:    b[1] & 0x7f,
		SequenceNumber: binary.BigEndian.Uint16(b[2:4]),
		Timestamp:      binary.BigEndian.Uint32(b[4:8]),
		SSRC:           binary.BigEndian.Uint32(b[8:12]),
		Raw:            b,
	}
	if p.Version != Version {
		return Packet{}, fmt.Errorf("%w: version %d", ErrMalformed, p.Version)
	}

	offset := HeaderLen
	csrcCount := int(b[0] & 0x0f)
	if len(b) < offset+4*csrcCount {
		return Packet{}, fmt.Errorf("%w: truncated contributing sources", ErrMalformed)
	}
	if csrcCount > 0 {
		p.CSRC = make([]uint32, csrcCount)
		for i := range p.CSRC {
			p.CSRC[i] = binary.BigEndian.Uint32(b[offset : offset+4])
			offset += 4
		}
	}

	if p.Extension {
		if len(b) < offset+extensionHeaderLen {
			return Packet{}, fmt.Errorf("%w: truncated header extension", ErrMalformed)
		}
		p.ExtensionProfile = binary.BigEndian.Uint16(b[offset : offset+2])
		extLen := 4 * int(binary.BigEndian.Uint16(b[offset+2:offset+4]))
		offset += extensionHeaderLen
		if len(b) < offset+extLen {
			return Packet{}, fmt.Errorf("%w: truncated header extension", ErrMalformed)
		}
		p.ExtensionPayload = b[offset : offset+extLen]
		offset += extLen
	}

	p.Payload = b[offset:]
	return p, nil
}

// AppendHeader appends the encoded header of p to dst.
func (p Packet) AppendHeader(dst []byte) ([]byte, error) {
	if len(p.CSRC) > MaxCSRC {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyCSRC, len(p.CSRC), MaxCSRC)
	}
	if p.PayloadType > 0x7f {
		return nil, fmt.Errorf("%w: %d", ErrPayloadType, p.PayloadType)
	}
	if p.Extension && len(p.ExtensionPayload)%4 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrExtensionSize, len(p.ExtensionPayload))
	}

	version := p.Version
	if version == 0 {
		version = Version
	}

	b0 := version<<6 | uint8(len(p.CSRC))
	if p.Padding {
		b0 |= 0x20
	}
	if p.Extension {
		b0 |= 0x10
	}
	b1 := p.PayloadType
	if p.Marker {
		b1 |= 0x80
	}

	dst = append(dst, b0, b1)
	dst = binary.BigEndian.AppendUint16(dst, p.SequenceNumber)
	dst = binary.BigEndian.AppendUint32(dst, p.Timestamp)
	dst = binary.BigEndian.AppendUint32(dst, p.SSRC)
	for _, csrc := range p.CSRC {
		dst = binary.BigEndian.AppendUint32(dst, csrc)
	}
	if p.Extension {
		dst = binary.BigEndian.AppendUint16(dst, p.ExtensionProfile)
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(p.ExtensionPayload)/4))
		dst = append(dst, p.ExtensionPayload...)
	}
	return dst, nil
}

// Append appends the encoded header followed by the payload of p to dst.
func (p Packet) Append(dst []byte) ([]byte, error) {
	dst, err := p.AppendHeader(dst)
	if err != nil {
		return nil, err
	}
	return append(dst, p.Payload...), nil
}

// Encode returns a freshly allocated encoding of p.
func (p Packet) Encode() ([]byte, error) {
	return p.Append(make([]byte, 0, p.HeaderSize()+len(p.Payload)))
}
