package srtp

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"

	pionsrtp "github.com/pion/srtp/v3"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/rtp"
)

func testPolicy() Policy {
	p := Policy{MasterKey: make([]byte, KeyLen), MasterSalt: make([]byte, SaltLen)}
	for i := range p.MasterKey {
		p.MasterKey[i] = byte(i + 1)
	}
	for i := range p.MasterSalt {
		p.MasterSalt[i] = byte(0xf0 - i)
	}
	return p
}

func testPacket(t *testing.T, seq uint16, payload string) rtp.Packet {
	t.Helper()
	b, err := rtp.Packet{
		PayloadType:    96,
		SequenceNumber: seq,
		Timestamp:      uint32(seq) * 3000,
		SSRC:           0xcafebabe,
		Payload:        []byte(payload),
	}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	pkt, err := rtp.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return pkt
}

func TestEncryptMatchesPionAcrossWrap(t *testing.T) {
	policy := testPolicy()
	engine := NewEngine()
	remote := netip.MustParseAddrPort("192.0.2.10:5000")

	enc, err := pionsrtp.CreateContext(policy.MasterKey, policy.MasterSalt, pionsrtp.ProtectionProfileAes128CmHmacSha1_80)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	dec, err := pionsrtp.CreateContext(policy.MasterKey, policy.MasterSalt, pionsrtp.ProtectionProfileAes128CmHmacSha1_80)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}

	for _, seq := range []uint16{65534, 65535, 0, 1} {
		pkt := testPacket(t, seq, "frame payload bytes")
		ours, err := engine.Encrypt(policy, pkt, remote)
		if err != nil {
			t.Fatalf("Encrypt(seq=%d): %v", seq, err)
		}
		if len(ours) != len(pkt.Raw)+TagLen {
			t.Fatalf("seq=%d: len=%d, want %d", seq, len(ours), len(pkt.Raw)+TagLen)
		}
		if !bytes.Equal(ours[:pkt.HeaderSize()], pkt.Raw[:pkt.HeaderSize()]) {
			t.Fatalf("seq=%d: header changed", seq)
		}

		theirs, err := enc.EncryptRTP(nil, pkt.Raw, nil)
		if err != nil {
			t.Fatalf("pion EncryptRTP(seq=%d): %v", seq, err)
		}
		if !bytes.Equal(ours, theirs) {
			t.Fatalf("seq=%d: ciphertext=%x, want %x", seq, ours, theirs)
		}

		plain, err := dec.DecryptRTP(nil, ours, nil)
		if err != nil {
			t.Fatalf("pion DecryptRTP(seq=%d): %v", seq, err)
		}
		if !bytes.Equal(plain, pkt.Raw) {
			t.Fatalf("seq=%d: decrypted=%x, want %x", seq, plain, pkt.Raw)
		}
	}
}

func mustNextIndex(t *testing.T, c *streamContext, seq uint16) (uint32, uint64) {
	t.Helper()
	roc, index, err := c.nextIndex(seq, uint64(seq))
	if err != nil {
		t.Fatalf("nextIndex(%d): %v", seq, err)
	}
	return roc, index
}

func TestRolloverIncrementsOnceAtWrap(t *testing.T) {
	var c streamContext
	wantROC := []uint32{0, 0, 1, 1}
	wantIndex := []uint64{65534, 65535, 65536, 65537}
	for i, seq := range []uint16{65534, 65535, 0, 1} {
		roc, index := mustNextIndex(t, &c, seq)
		if roc != wantROC[i] || index != wantIndex[i] {
			t.Fatalf("seq=%d: roc=%d index=%d, want roc=%d index=%d", seq, roc, index, wantROC[i], wantIndex[i])
		}
	}
	if c.roc != 1 {
		t.Fatalf("roc=%d, want 1", c.roc)
	}
}

func TestRolloverIgnoresReordering(t *testing.T) {
	var c streamContext
	for _, seq := range []uint16{100, 102, 101, 103} {
		mustNextIndex(t, &c, seq)
	}
	if c.roc != 0 || c.lastSeq != 103 {
		t.Fatalf("roc=%d lastSeq=%d, want 0 and 103", c.roc, c.lastSeq)
	}

	// A straggler from before the wrap is indexed with the previous counter
	// and does not move the stream state.
	c = streamContext{}
	mustNextIndex(t, &c, 65530)
	mustNextIndex(t, &c, 2)
	roc, index := mustNextIndex(t, &c, 65533)
	if roc != 0 || index != 65533 {
		t.Fatalf("late packet: roc=%d index=%d, want 0 and 65533", roc, index)
	}
	if c.roc != 1 || c.lastSeq != 2 {
		t.Fatalf("roc=%d lastSeq=%d, want 1 and 2", c.roc, c.lastSeq)
	}
}

func seqRange(from, to int) []uint16 {
	var out []uint16
	for s := from; s <= to; s++ {
		out = append(out, uint16(s))
	}
	return out
}

func TestForwardJumpBeforeFirstWrapAdvances(t *testing.T) {
	var c streamContext
	seqs := append([]uint16{10, 11}, seqRange(50000, 65535)...)
	seqs = append(seqs, seqRange(0, 20)...)

	used := make(map[uint64]uint16)
	for _, seq := range seqs {
		_, index := mustNextIndex(t, &c, seq)
		if prev, ok := used[index]; ok {
			t.Fatalf("seq=%d reuses index %d of seq=%d", seq, index, prev)
		}
		used[index] = seq
	}
	if c.roc != 1 || c.lastSeq != 20 {
		t.Fatalf("roc=%d lastSeq=%d, want 1 and 20", c.roc, c.lastSeq)
	}
}

func TestIndexNeverReusedAfterRestart(t *testing.T) {
	cases := []struct {
		name string
		seqs []uint16
	}{
		{"forward jump after wrap", append(append(append([]uint16{65535}, seqRange(0, 11)...), seqRange(50000, 65535)...), seqRange(0, 40)...)},
		{"backward jump", append(seqRange(20000, 20100), seqRange(10000, 20200)...)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var c streamContext
			used := make(map[uint64]int)
			refused := 0
			for i, seq := range tc.seqs {
				// Every packet differs, so a repeated index would repeat the
				// keystream over different plaintext.
				_, index, err := c.nextIndex(seq, uint64(i))
				if err != nil {
					if !errors.Is(err, ErrIndexReused) {
						t.Fatalf("seq=%d: err=%v, want ErrIndexReused", seq, err)
					}
					refused++
					continue
				}
				if prev, ok := used[index]; ok {
					t.Fatalf("packet %d (seq=%d) reuses index %d of packet %d", i, seq, index, prev)
				}
				used[index] = i
			}
			if refused == 0 {
				t.Fatalf("no packet refused")
			}
		})
	}
}

func TestEncryptRefusesIndexReuse(t *testing.T) {
	policy := testPolicy()
	remote := netip.MustParseAddrPort("192.0.2.10:5000")
	e := NewEngine()

	if _, err := e.Encrypt(policy, testPacket(t, 7, "first"), remote); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := e.Encrypt(policy, testPacket(t, 7, "first"), remote); err != nil {
		t.Fatalf("Encrypt same packet again: %v", err)
	}
	if _, err := e.Encrypt(policy, testPacket(t, 7, "other"), remote); !errors.Is(err, ErrIndexReused) {
		t.Fatalf("err=%v, want ErrIndexReused", err)
	}
}

func TestEncryptDeterministic(t *testing.T) {
	policy := testPolicy()
	remote := netip.MustParseAddrPort("192.0.2.10:5000")
	pkt := testPacket(t, 7, "same input")

	a, err := NewEngine().Encrypt(policy, pkt, remote)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	e := NewEngine()
	b, err := e.Encrypt(policy, pkt, remote)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	c, err := e.Encrypt(policy, pkt, remote)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !bytes.Equal(a, b) || !bytes.Equal(b, c) {
		t.Fatalf("outputs differ: %x %x %x", a, b, c)
	}
}

func TestStreamsAreIndependentPerRemote(t *testing.T) {
	policy := testPolicy()
	e := NewEngine()
	first := netip.MustParseAddrPort("192.0.2.10:5000")
	second := netip.MustParseAddrPort("192.0.2.11:5000")

	for _, seq := range []uint16{65535, 0} {
		if _, err := e.Encrypt(policy, testPacket(t, seq, "x"), first); err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
	}
	if _, err := e.Encrypt(policy, testPacket(t, 65535, "x"), second); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	afterWrap, err := e.Encrypt(policy, testPacket(t, 1, "x"), first)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	fresh, err := NewEngine().Encrypt(policy, testPacket(t, 1, "x"), second)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(afterWrap, fresh) {
		t.Fatalf("streams for different remotes share rollover state")
	}
	if e.Len() != 2 {
		t.Fatalf("Len=%d, want 2", e.Len())
	}

	e.Forget(first)
	if e.Len() != 1 {
		t.Fatalf("Len after Forget=%d, want 1", e.Len())
	}
}

func TestEncryptRejectsMalformed(t *testing.T) {
	e := NewEngine()
	remote := netip.MustParseAddrPort("192.0.2.10:5000")

	pkt := rtp.Packet{CSRC: []uint32{1, 2}, Raw: make([]byte, rtp.HeaderLen)}
	if _, err := e.Encrypt(testPolicy(), pkt, remote); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("err=%v, want ErrMalformedPacket", err)
	}

	bad := testPolicy()
	bad.MasterKey = bad.MasterKey[:8]
	if _, err := e.Encrypt(bad, testPacket(t, 1, "x"), remote); !errors.Is(err, ErrInvalidKeyingMaterial) {
		t.Fatalf("err=%v, want ErrInvalidKeyingMaterial", err)
	}
	if e.Len() != 0 {
		t.Fatalf("Len=%d, want 0", e.Len())
	}
}

func TestEncryptEncodesPacketWithoutRaw(t *testing.T) {
	policy := testPolicy()
	remote := netip.MustParseAddrPort("192.0.2.10:5000")
	decoded := testPacket(t, 9, "payload")
	built := decoded
	built.Raw = nil

	a, err := NewEngine().Encrypt(policy, decoded, remote)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := NewEngine().Encrypt(policy, built, remote)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("encrypt of built packet=%x, want %x", b, a)
	}
}

func TestPolicyChangeResetsStream(t *testing.T) {
	remote := netip.MustParseAddrPort("192.0.2.10:5000")
	e := NewEngine()
	old := testPolicy()
	for _, seq := range []uint16{65535, 0} {
		if _, err := e.Encrypt(old, testPacket(t, seq, "x"), remote); err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
	}

	renewed := testPolicy()
	renewed.MasterKey[0] ^= 0xff
	got, err := e.Encrypt(renewed, testPacket(t, 1, "x"), remote)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	want, err := NewEngine().Encrypt(renewed, testPacket(t, 1, "x"), remote)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("stream kept state across a policy change")
	}
}
