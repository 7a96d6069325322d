// Package rtcp encodes and decodes the control-packet family that accompanies
// media streams: sender and receiver reports, source descriptions, goodbye and
// application-defined packets.
package rtcp

import (
	"errors"
	"fmt"
)

const (
	// Version is the only protocol version this codec accepts.
	Version = 2

	// HeaderLen is the size of the common header shared by every variant.
	HeaderLen = 4

	// MaxCount is the largest value the 5-bit count field can carry.
	MaxCount = 31
)

var (
	ErrMalformed = errors.New("rtcp: malformed packet")

	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrMalformed)
	ErrUnknownPacketType  = fmt.Errorf("%w: unknown packet type", ErrMalformed)
	ErrTruncated          = fmt.Errorf("%w: truncated", ErrMalformed)

	ErrTooManyItems   = errors.New("rtcp: too many items for count field")
	ErrTextTooLong    = errors.New("rtcp: text longer than 255 bytes")
	ErrInvalidAppName = errors.New("rtcp: application name must be 4 ASCII bytes")
	ErrInvalidSubtype = errors.New("rtcp: application subtype out of range")
)

// PacketType is the on-wire packet type byte.
type PacketType uint8

const (
	TypeSenderReport       PacketType = 200
	TypeReceiverReport     PacketType = 201
	TypeSourceDescription  PacketType = 202
	TypeGoodbye            PacketType = 203
	TypeApplicationDefined PacketType = 204
)

func (t PacketType) String() string {
	switch t {
	case TypeSenderReport:
		return "SR"
	case TypeReceiverReport:
		return "RR"
	case TypeSourceDescription:
		return "SDES"
	case TypeGoodbye:
		return "BYE"
	case TypeApplicationDefined:
		return "APP"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

// Packet is one of *SenderReport, *ReceiverReport, *SourceDescription,
// *Goodbye or *ApplicationDefined.
type Packet interface {
	// Type returns the variant's packet type.
	Type() PacketType
	// Len returns the encoded size in bytes, header included. It is always a
	// multiple of 4.
	Len() int

	packet()
}

// LengthWords returns the value carried in the header length field: the
// packet's size in 32-bit words, minus one.
func LengthWords(p Packet) uint16 {
	return uint16(p.Len()/4 - 1)
}

// Header is the common 4-byte header.
type Header struct {
	Padding bool
	// Count is the 5-bit item count (report blocks, chunks, sources) or, for
	// application-defined packets, the subtype.
	Count  uint8
	Type   PacketType
	Length uint16
}

func pad4(n int) int {
	return (n + 3) &^ 3
}
