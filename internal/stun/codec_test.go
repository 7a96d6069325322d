package stun

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"reflect"
	"testing"

	pionstun "github.com/pion/stun/v3"
)

func testTransactionID() TransactionID {
	var tid TransactionID
	for i := range tid {
		tid[i] = byte(0xa0 + i)
	}
	return tid
}

func TestEncodeDecodeAttributes(t *testing.T) {
	in := Message{
		Type:          BindingRequest,
		TransactionID: testTransactionID(),
		Attributes: []Attribute{
			Username("abcd:efgh"),
			Priority(2130706431),
			UseCandidate{},
			ICEControlling(0x0102030405060708),
			ICEControlled(42),
			Software("relay"),
			ErrorCode{Code: 487, Reason: "Role Conflict"},
			XORMappedAddress{Addr: netip.MustParseAddrPort("[2001:db8::1]:3478")},
			RawAttribute{AttrType: 0x8050, Value: []byte{1, 2, 3}},
		},
	}

	b, err := Encode(in, []byte("secret"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(b)%4 != 0 {
		t.Fatalf("len=%d, want multiple of 4", len(b))
	}
	if got := int(binary.BigEndian.Uint16(b[2:4])); got != len(b)-HeaderLen {
		t.Fatalf("header length=%d, want %d", got, len(b)-HeaderLen)
	}

	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Type != in.Type || out.TransactionID != in.TransactionID {
		t.Fatalf("header=%v/%x, want %v/%x", out.Type, out.TransactionID, in.Type, in.TransactionID)
	}
	if !reflect.DeepEqual(out.Attributes, in.Attributes) {
		t.Fatalf("attributes=%#v, want %#v", out.Attributes, in.Attributes)
	}
	if !out.HasIntegrity() || !out.HasFingerprint() {
		t.Fatalf("integrity=%v fingerprint=%v, want both", out.HasIntegrity(), out.HasFingerprint())
	}
	if err := out.CheckIntegrity([]byte("secret")); err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
	if err := out.CheckIntegrity([]byte("other")); !errors.Is(err, ErrIntegrityMismatch) {
		t.Fatalf("CheckIntegrity(other)=%v, want ErrIntegrityMismatch", err)
	}
	if err := out.CheckFingerprint(); err != nil {
		t.Fatalf("CheckFingerprint: %v", err)
	}
}

func TestIntegrityCoversEveryPriorByte(t *testing.T) {
	key := []byte("0123456789abcdefghijkl")
	signed, err := Encode(Message{
		Type:          BindingSuccessResponse,
		TransactionID: testTransactionID(),
		Attributes: []Attribute{
			XORMappedAddress{Addr: netip.MustParseAddrPort("203.0.113.7:54321")},
			Username("ab12:browser"),
			Software("relay"),
		},
	}, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	orig, err := Decode(signed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := orig.CheckIntegrity(key); err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}

	for i := 0; i < orig.integrityAt; i++ {
		b := append([]byte(nil), signed...)
		b[i] ^= 0x01
		m, err := Decode(b)
		if err != nil {
			// The cookie, the length field and attribute headers can make
			// the message unparseable, which also rejects it.
			if i >= 8 && i < HeaderLen {
				t.Fatalf("byte %d: transaction id change rejected by Decode: %v", i, err)
			}
			continue
		}
		err = m.CheckIntegrity(key)
		if m.integrityAt != orig.integrityAt {
			if err == nil {
				t.Fatalf("byte %d: change moved integrity and still verified", i)
			}
			continue
		}
		if !errors.Is(err, ErrIntegrityMismatch) {
			t.Fatalf("byte %d: CheckIntegrity=%v, want ErrIntegrityMismatch", i, err)
		}
	}
}

func TestEncodeWithoutKeyHasNoIntegrity(t *testing.T) {
	b, err := Encode(Message{Type: BindingRequest, TransactionID: testTransactionID()}, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	m, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.HasIntegrity() {
		t.Fatalf("unexpected integrity attribute")
	}
	if err := m.CheckIntegrity([]byte("k")); !errors.Is(err, ErrNoIntegrity) {
		t.Fatalf("CheckIntegrity=%v, want ErrNoIntegrity", err)
	}
	if err := m.CheckFingerprint(); err != nil {
		t.Fatalf("CheckFingerprint: %v", err)
	}
}

func TestFingerprintIsLastAndRecomputed(t *testing.T) {
	m := Message{
		Type:          BindingSuccessResponse,
		TransactionID: testTransactionID(),
		Attributes:    []Attribute{XORMappedAddress{Addr: netip.MustParseAddrPort("192.0.2.1:1000")}},
	}
	first, err := Encode(m, []byte("key"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	m.Attributes[0] = XORMappedAddress{Addr: netip.MustParseAddrPort("192.0.2.2:1000")}
	second, err := Encode(m, []byte("key"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for _, b := range [][]byte{first, second} {
		at := len(b) - fingerprintAttrLen
		if got := AttrType(binary.BigEndian.Uint16(b[at : at+2])); got != AttrFingerprint {
			t.Fatalf("last attribute=0x%04x, want fingerprint", uint16(got))
		}
		at -= integrityAttrLen
		if got := AttrType(binary.BigEndian.Uint16(b[at : at+2])); got != AttrMessageIntegrity {
			t.Fatalf("second to last attribute=0x%04x, want message integrity", uint16(got))
		}
	}
	if bytes.Equal(first[len(first)-4:], second[len(second)-4:]) {
		t.Fatalf("fingerprint unchanged after attribute edit")
	}
}

func TestEncodeMatchesPion(t *testing.T) {
	tid := testTransactionID()
	ours, err := Encode(Message{
		Type:          BindingSuccessResponse,
		TransactionID: tid,
		Attributes: []Attribute{
			XORMappedAddress{Addr: netip.MustParseAddrPort("198.51.100.9:40000")},
			Username("ab12:cd34"),
		},
	}, []byte("0123456789abcdefghijkl"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	theirs, err := pionstun.Build(
		pionstun.NewTransactionIDSetter(tid),
		pionstun.BindingSuccess,
		&pionstun.XORMappedAddress{IP: net.ParseIP("198.51.100.9").To4(), Port: 40000},
		pionstun.NewUsername("ab12:cd34"),
		pionstun.NewShortTermIntegrity("0123456789abcdefghijkl"),
		pionstun.Fingerprint,
	)
	if err != nil {
		t.Fatalf("pion Build: %v", err)
	}
	if !bytes.Equal(ours, theirs.Raw) {
		t.Fatalf("encoding=%x, want %x", ours, theirs.Raw)
	}
}

func TestDecodeXORMappedAddressFromPion(t *testing.T) {
	for _, addr := range []string{"203.0.113.5:9", "[2001:db8::42]:65535"} {
		ap := netip.MustParseAddrPort(addr)
		theirs, err := pionstun.Build(
			pionstun.TransactionID,
			pionstun.BindingSuccess,
			&pionstun.XORMappedAddress{IP: net.IP(ap.Addr().AsSlice()), Port: int(ap.Port())},
		)
		if err != nil {
			t.Fatalf("pion Build: %v", err)
		}
		m, err := Decode(theirs.Raw)
		if err != nil {
			t.Fatalf("Decode(%s): %v", addr, err)
		}
		a, ok := m.Get(AttrXORMappedAddress)
		if !ok {
			t.Fatalf("%s: no xor-mapped-address", addr)
		}
		if got := a.(XORMappedAddress).Addr; got != ap {
			t.Fatalf("addr=%v, want %v", got, ap)
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	valid, err := Encode(Message{Type: BindingRequest, TransactionID: testTransactionID(), Attributes: []Attribute{Username("a:b")}}, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name string
		mut  func([]byte) []byte
		want error
	}{
		{"short", func(b []byte) []byte { return b[:HeaderLen-1] }, ErrNotConnectivity},
		{"cookie", func(b []byte) []byte { b[7] ^= 1; return b }, ErrNotConnectivity},
		{"leading bits", func(b []byte) []byte { b[0] |= 0x80; return b }, ErrNotConnectivity},
		{"length not aligned", func(b []byte) []byte { binary.BigEndian.PutUint16(b[2:4], 3); return b }, ErrMalformed},
		{"length overruns", func(b []byte) []byte { binary.BigEndian.PutUint16(b[2:4], uint16(len(b))); return b }, ErrMalformed},
		{"attribute overruns", func(b []byte) []byte { binary.BigEndian.PutUint16(b[HeaderLen+2:HeaderLen+4], 0x0100); return b }, ErrMalformed},
	}
	for _, tt := range tests {
		b := tt.mut(append([]byte(nil), valid...))
		if _, err := Decode(b); !errors.Is(err, tt.want) {
			t.Fatalf("%s: err=%v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestDecodeIgnoresAttributesAfterIntegrity(t *testing.T) {
	b, err := Encode(Message{Type: BindingRequest, TransactionID: testTransactionID()}, []byte("k"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Drop the fingerprint, then add an attribute after the integrity.
	b = b[:len(b)-fingerprintAttrLen]
	b = append(b, 0x00, 0x06, 0x00, 0x04, 'x', ':', 'y', 'z')
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)-HeaderLen))

	m, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := m.Username(); ok {
		t.Fatalf("username after integrity was not ignored")
	}
	if err := m.CheckIntegrity([]byte("k")); err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
}

func TestIsMessage(t *testing.T) {
	b, err := Encode(Message{Type: BindingRequest}, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !IsMessage(b) {
		t.Fatalf("IsMessage(binding request)=false")
	}
	if IsMessage([]byte{0x80, 0x60, 0, 1}) {
		t.Fatalf("IsMessage(rtp)=true")
	}
}

func TestIntegrityKeyRejectsControlCharacters(t *testing.T) {
	if _, err := IntegrityKey("bad\x00password"); err == nil {
		t.Fatalf("IntegrityKey accepted a control character")
	}
	key, err := IntegrityKey("0123456789abcdefghijkl")
	if err != nil {
		t.Fatalf("IntegrityKey: %v", err)
	}
	if string(key) != "0123456789abcdefghijkl" {
		t.Fatalf("key=%q, want password unchanged", key)
	}
}
