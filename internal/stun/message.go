// Package stun implements the connectivity-check messages exchanged on the
// shared media socket: binding requests from browsers, the relay's signed
// responses, and the integrity and fingerprint attributes that protect them.
package stun

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

const (
	// HeaderLen is the size of the fixed message header.
	HeaderLen = 20

	// MagicCookie is carried in every message and keys the XOR-mapped address.
	MagicCookie uint32 = 0x2112A442

	// FingerprintXOR is XORed into the CRC-32 of the message.
	FingerprintXOR uint32 = 0x5354554E

	integrityValueLen   = 20
	fingerprintValueLen = 4
	attrHeaderLen       = 4

	integrityAttrLen   = attrHeaderLen + integrityValueLen
	fingerprintAttrLen = attrHeaderLen + fingerprintValueLen
)

var (
	ErrNotConnectivity     = errors.New("stun: not a connectivity-check message")
	ErrMalformed           = errors.New("stun: malformed message")
	ErrMissingCredential   = errors.New("stun: no credential for username")
	ErrIntegrityMismatch   = errors.New("stun: message integrity mismatch")
	ErrFingerprintMismatch = errors.New("stun: fingerprint mismatch")
	ErrNoIntegrity         = errors.New("stun: message has no integrity attribute")
	ErrNoFingerprint       = errors.New("stun: message has no fingerprint attribute")
)

// MessageType is the 16-bit method and class field.
type MessageType uint16

const (
	BindingRequest         MessageType = 0x0001
	BindingIndication      MessageType = 0x0011
	BindingSuccessResponse MessageType = 0x0101
	BindingErrorResponse   MessageType = 0x0111
)

func (t MessageType) String() string {
	switch t {
	case BindingRequest:
		return "binding request"
	case BindingIndication:
		return "binding indication"
	case BindingSuccessResponse:
		return "binding success response"
	case BindingErrorResponse:
		return "binding error response"
	default:
		return fmt.Sprintf("MessageType(0x%04x)", uint16(t))
	}
}

// AttrType identifies an attribute on the wire.
type AttrType uint16

const (
	AttrUsername         AttrType = 0x0006
	AttrMessageIntegrity AttrType = 0x0008
	AttrErrorCode        AttrType = 0x0009
	AttrXORMappedAddress AttrType = 0x0020
	AttrPriority         AttrType = 0x0024
	AttrUseCandidate     AttrType = 0x0025
	AttrSoftware         AttrType = 0x8022
	AttrFingerprint      AttrType = 0x8028
	AttrICEControlled    AttrType = 0x8029
	AttrICEControlling   AttrType = 0x802A
)

// TransactionID is the 96-bit transaction identifier.
type TransactionID [12]byte

// Attribute is one of Username, Priority, UseCandidate, ICEControlled,
// ICEControlling, XORMappedAddress, Software, ErrorCode or RawAttribute.
//
// Message integrity and fingerprint are not attributes in this model: they
// are derived from the rest of the message every time it is encoded.
type Attribute interface {
	Type() AttrType
	appendValue(dst []byte, tid TransactionID) []byte
}

// Username carries the short-term credential name ("local:remote" ufrags).
type Username string

func (Username) Type() AttrType { return AttrUsername }
func (u Username) appendValue(dst []byte, _ TransactionID) []byte {
	return append(dst, u...)
}

// Priority is the ICE candidate priority of the sender's candidate.
type Priority uint32

func (Priority) Type() AttrType { return AttrPriority }
func (p Priority) appendValue(dst []byte, _ TransactionID) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(p))
}

// UseCandidate is the controlling agent's nomination flag. It has no value.
type UseCandidate struct{}

func (UseCandidate) Type() AttrType                                  { return AttrUseCandidate }
func (UseCandidate) appendValue(dst []byte, _ TransactionID) []byte { return dst }

// ICEControlled carries the tie-breaker of an agent in the controlled role.
type ICEControlled uint64

func (ICEControlled) Type() AttrType { return AttrICEControlled }
func (c ICEControlled) appendValue(dst []byte, _ TransactionID) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(c))
}

// ICEControlling carries the tie-breaker of an agent in the controlling role.
type ICEControlling uint64

func (ICEControlling) Type() AttrType { return AttrICEControlling }
func (c ICEControlling) appendValue(dst []byte, _ TransactionID) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(c))
}

// Software names the agent that produced the message.
type Software string

func (Software) Type() AttrType { return AttrSoftware }
func (s Software) appendValue(dst []byte, _ TransactionID) []byte {
	return append(dst, s...)
}

// ErrorCode is carried by error responses.
type ErrorCode struct {
	Code   int
	Reason string
}

func (ErrorCode) Type() AttrType { return AttrErrorCode }
func (e ErrorCode) appendValue(dst []byte, _ TransactionID) []byte {
	dst = append(dst, 0, 0, uint8(e.Code/100)&0x07, uint8(e.Code%100))
	return append(dst, e.Reason...)
}

// XORMappedAddress is the sender's observed transport address, obfuscated
// with the magic cookie (and, for IPv6, the transaction id).
type XORMappedAddress struct {
	Addr netip.AddrPort
}

func (XORMappedAddress) Type() AttrType { return AttrXORMappedAddress }
func (x XORMappedAddress) appendValue(dst []byte, tid TransactionID) []byte {
	ip := x.Addr.Addr().Unmap()
	var cookie [4]byte
	binary.BigEndian.PutUint32(cookie[:], MagicCookie)

	family := uint8(0x01)
	if ip.Is6() {
		family = 0x02
	}
	dst = append(dst, 0, family)
	dst = binary.BigEndian.AppendUint16(dst, x.Addr.Port()^uint16(MagicCookie>>16))

	if ip.Is4() {
		a := ip.As4()
		for i := range a {
			dst = append(dst, a[i]^cookie[i])
		}
		return dst
	}
	a := ip.As16()
	for i := range a {
		var k byte
		if i < 4 {
			k = cookie[i]
		} else {
			k = tid[i-4]
		}
		dst = append(dst, a[i]^k)
	}
	return dst
}

// RawAttribute preserves an attribute this package does not interpret.
type RawAttribute struct {
	AttrType AttrType
	Value    []byte
}

func (r RawAttribute) Type() AttrType { return r.AttrType }
func (r RawAttribute) appendValue(dst []byte, _ TransactionID) []byte {
	return append(dst, r.Value...)
}

// Message is a decoded or to-be-encoded connectivity-check message.
type Message struct {
	Type          MessageType
	TransactionID TransactionID
	Attributes    []Attribute

	// Offsets of the integrity and fingerprint attributes within raw, or -1.
	// Only set by Decode.
	raw           []byte
	integrityAt   int
	fingerprintAt int
}

// Get returns the first attribute of type t.
func (m *Message) Get(t AttrType) (Attribute, bool) {
	for _, a := range m.Attributes {
		if a.Type() == t {
			return a, true
		}
	}
	return nil, false
}

// Username returns the message's username attribute, if present.
func (m *Message) Username() (Username, bool) {
	a, ok := m.Get(AttrUsername)
	if !ok {
		return "", false
	}
	return a.(Username), true
}

// HasIntegrity reports whether a decoded message carried message integrity.
func (m *Message) HasIntegrity() bool {
	return m.raw != nil && m.integrityAt >= 0
}

// HasFingerprint reports whether a decoded message carried a fingerprint.
func (m *Message) HasFingerprint() bool {
	return m.raw != nil && m.fingerprintAt >= 0
}
