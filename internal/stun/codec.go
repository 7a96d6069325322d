package stun

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"net/netip"

	"golang.org/x/text/secure/precis"
)

// IsMessage reports whether b looks like a connectivity-check message: long
// enough for a header and carrying the magic cookie.
func IsMessage(b []byte) bool {
	return len(b) >= HeaderLen && b[0]&0xc0 == 0 && binary.BigEndian.Uint32(b[4:8]) == MagicCookie
}

// Decode parses b. The magic cookie is checked before any attribute is read.
func Decode(b []byte) (Message, error) {
	if len(b) < HeaderLen {
		return Message{}, fmt.Errorf("%w: %d bytes < %d", ErrNotConnectivity, len(b), HeaderLen)
	}
	if cookie := binary.BigEndian.Uint32(b[4:8]); cookie != MagicCookie {
		return Message{}, fmt.Errorf("%w: cookie 0x%08x", ErrNotConnectivity, cookie)
	}
	if b[0]&0xc0 != 0 {
		return Message{}, fmt.Errorf("%w: leading bits set", ErrNotConnectivity)
	}

	m := Message{
		Type:          MessageType(binary.BigEndian.Uint16(b[0:2])),
		raw:           b,
		integrityAt:   -1,
		fingerprintAt: -1,
	}
	copy(m.TransactionID[:], b[8:20])

	length := int(binary.BigEndian.Uint16(b[2:4]))
	if length%4 != 0 || HeaderLen+length > len(b) {
		return Message{}, fmt.Errorf("%w: declared length %d, have %d", ErrMalformed, length, len(b)-HeaderLen)
	}
	end := HeaderLen + length

	off := HeaderLen
	for off < end {
		if end-off < attrHeaderLen {
			return Message{}, fmt.Errorf("%w: truncated attribute header", ErrMalformed)
		}
		typ := AttrType(binary.BigEndian.Uint16(b[off : off+2]))
		n := int(binary.BigEndian.Uint16(b[off+2 : off+4]))
		start := off
		valueAt := off + attrHeaderLen
		if valueAt+n > end {
			return Message{}, fmt.Errorf("%w: attribute 0x%04x overruns message", ErrMalformed, uint16(typ))
		}
		value := b[valueAt : valueAt+n]
		off = valueAt + pad4(n)

		if m.fingerprintAt >= 0 {
			return Message{}, fmt.Errorf("%w: attribute after fingerprint", ErrMalformed)
		}

		switch typ {
		case AttrMessageIntegrity:
			if n != integrityValueLen {
				return Message{}, fmt.Errorf("%w: integrity length %d", ErrMalformed, n)
			}
			m.integrityAt = start
			continue
		case AttrFingerprint:
			if n != fingerprintValueLen {
				return Message{}, fmt.Errorf("%w: fingerprint length %d", ErrMalformed, n)
			}
			m.fingerprintAt = start
			continue
		}
		if m.integrityAt >= 0 {
			// Anything after integrity other than the fingerprint is not
			// covered by it and must be ignored.
			continue
		}

		attr, err := decodeAttribute(typ, value, m.TransactionID)
		if err != nil {
			return Message{}, err
		}
		m.Attributes = append(m.Attributes, attr)
	}
	if off > end {
		return Message{}, fmt.Errorf("%w: attribute padding overruns message", ErrMalformed)
	}
	return m, nil
}

func decodeAttribute(typ AttrType, v []byte, tid TransactionID) (Attribute, error) {
	switch typ {
	case AttrUsername:
		return Username(v), nil
	case AttrSoftware:
		return Software(v), nil
	case AttrPriority:
		if len(v) != 4 {
			return nil, fmt.Errorf("%w: priority length %d", ErrMalformed, len(v))
		}
		return Priority(binary.BigEndian.Uint32(v)), nil
	case AttrUseCandidate:
		if len(v) != 0 {
			return nil, fmt.Errorf("%w: use-candidate length %d", ErrMalformed, len(v))
		}
		return UseCandidate{}, nil
	case AttrICEControlled:
		if len(v) != 8 {
			return nil, fmt.Errorf("%w: ice-controlled length %d", ErrMalformed, len(v))
		}
		return ICEControlled(binary.BigEndian.Uint64(v)), nil
	case AttrICEControlling:
		if len(v) != 8 {
			return nil, fmt.Errorf("%w: ice-controlling length %d", ErrMalformed, len(v))
		}
		return ICEControlling(binary.BigEndian.Uint64(v)), nil
	case AttrErrorCode:
		if len(v) < 4 {
			return nil, fmt.Errorf("%w: error-code length %d", ErrMalformed, len(v))
		}
		return ErrorCode{Code: int(v[2]&0x07)*100 + int(v[3]), Reason: string(v[4:])}, nil
	case AttrXORMappedAddress:
		return decodeXORMappedAddress(v, tid)
	default:
		return RawAttribute{AttrType: typ, Value: append([]byte(nil), v...)}, nil
	}
}

func decodeXORMappedAddress(v []byte, tid TransactionID) (Attribute, error) {
	if len(v) < 4 {
		return nil, fmt.Errorf("%w: xor-mapped-address length %d", ErrMalformed, len(v))
	}
	var cookie [4]byte
	binary.BigEndian.PutUint32(cookie[:], MagicCookie)
	port := binary.BigEndian.Uint16(v[2:4]) ^ uint16(MagicCookie>>16)

	switch v[1] {
	case 0x01:
		if len(v) != 8 {
			return nil, fmt.Errorf("%w: xor-mapped-address length %d", ErrMalformed, len(v))
		}
		var a [4]byte
		for i := range a {
			a[i] = v[4+i] ^ cookie[i]
		}
		return XORMappedAddress{Addr: netip.AddrPortFrom(netip.AddrFrom4(a), port)}, nil
	case 0x02:
		if len(v) != 20 {
			return nil, fmt.Errorf("%w: xor-mapped-address length %d", ErrMalformed, len(v))
		}
		var a [16]byte
		for i := range a {
			var k byte
			if i < 4 {
				k = cookie[i]
			} else {
				k = tid[i-4]
			}
			a[i] = v[4+i] ^ k
		}
		return XORMappedAddress{Addr: netip.AddrPortFrom(netip.AddrFrom16(a), port)}, nil
	default:
		return nil, fmt.Errorf("%w: address family %d", ErrMalformed, v[1])
	}
}

// IntegrityKey prepares a short-term credential password for use as the
// message-integrity HMAC key.
func IntegrityKey(password string) ([]byte, error) {
	prepared, err := precis.OpaqueString.String(password)
	if err != nil {
		return nil, fmt.Errorf("stun: prepare password: %w", err)
	}
	return []byte(prepared), nil
}

// Encode serializes m. When key is non-nil a message-integrity attribute is
// computed with it. A fingerprint is computed on every call and is always the
// final attribute.
func Encode(m Message, key []byte) ([]byte, error) {
	dst := make([]byte, HeaderLen, 128)
	binary.BigEndian.PutUint16(dst[0:2], uint16(m.Type))
	binary.BigEndian.PutUint32(dst[4:8], MagicCookie)
	copy(dst[8:20], m.TransactionID[:])

	for _, a := range m.Attributes {
		start := len(dst)
		dst = append(dst, 0, 0, 0, 0)
		dst = a.appendValue(dst, m.TransactionID)
		n := len(dst) - start - attrHeaderLen
		if n > 0xffff {
			return nil, fmt.Errorf("stun: attribute 0x%04x too long (%d bytes)", uint16(a.Type()), n)
		}
		binary.BigEndian.PutUint16(dst[start:start+2], uint16(a.Type()))
		binary.BigEndian.PutUint16(dst[start+2:start+4], uint16(n))
		for len(dst)%4 != 0 {
			dst = append(dst, 0)
		}
	}

	if key != nil {
		dst = appendIntegrity(dst, key)
	}
	dst = appendFingerprint(dst)

	if len(dst)-HeaderLen > 0xffff {
		return nil, fmt.Errorf("stun: message too long (%d bytes)", len(dst))
	}
	return dst, nil
}

// appendIntegrity sets the header length as if the integrity attribute were
// already present, MACs everything so far, then appends the attribute.
func appendIntegrity(dst, key []byte) []byte {
	binary.BigEndian.PutUint16(dst[2:4], uint16(len(dst)-HeaderLen+integrityAttrLen))
	mac := hmac.New(sha1.New, key)
	mac.Write(dst)
	sum := mac.Sum(nil)

	dst = binary.BigEndian.AppendUint16(dst, uint16(AttrMessageIntegrity))
	dst = binary.BigEndian.AppendUint16(dst, integrityValueLen)
	return append(dst, sum...)
}

// appendFingerprint sets the header length as if the fingerprint attribute
// were already present, checksums everything so far, then appends it.
func appendFingerprint(dst []byte) []byte {
	binary.BigEndian.PutUint16(dst[2:4], uint16(len(dst)-HeaderLen+fingerprintAttrLen))
	crc := crc32.ChecksumIEEE(dst) ^ FingerprintXOR

	dst = binary.BigEndian.AppendUint16(dst, uint16(AttrFingerprint))
	dst = binary.BigEndian.AppendUint16(dst, fingerprintValueLen)
	return binary.BigEndian.AppendUint32(dst, crc)
}

// CheckIntegrity verifies a decoded message's integrity attribute against key.
func (m *Message) CheckIntegrity(key []byte) error {
	if !m.HasIntegrity() {
		return ErrNoIntegrity
	}
	covered := append([]byte(nil), m.raw[:m.integrityAt]...)
	binary.BigEndian.PutUint16(covered[2:4], uint16(m.integrityAt-HeaderLen+integrityAttrLen))
	mac := hmac.New(sha1.New, key)
	mac.Write(covered)

	stored := m.raw[m.integrityAt+attrHeaderLen : m.integrityAt+integrityAttrLen]
	if !hmac.Equal(mac.Sum(nil), stored) {
		return ErrIntegrityMismatch
	}
	return nil
}

// CheckFingerprint verifies a decoded message's fingerprint attribute.
func (m *Message) CheckFingerprint() error {
	if !m.HasFingerprint() {
		return ErrNoFingerprint
	}
	covered := append([]byte(nil), m.raw[:m.fingerprintAt]...)
	binary.BigEndian.PutUint16(covered[2:4], uint16(m.fingerprintAt-HeaderLen+fingerprintAttrLen))
	want := crc32.ChecksumIEEE(covered) ^ FingerprintXOR

	got := binary.BigEndian.Uint32(m.raw[m.fingerprintAt+attrHeaderLen : m.fingerprintAt+fingerprintAttrLen])
	if got != want {
		return ErrFingerprintMismatch
	}
	return nil
}

func pad4(n int) int {
	return (n + 3) &^ 3
}
