package srtp

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"net/netip"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/rtp"
)

type streamKey struct {
	ssrc   uint32
	remote netip.AddrPort
}

// Engine holds per-stream encryption state. Streams are keyed by SSRC and
// remote address, so two peers receiving the same upstream source keep
// independent rollover counters and session keys.
type Engine struct {
	mu      sync.Mutex
	streams map[streamKey]*streamContext
}

func NewEngine() *Engine {
	return &Engine{streams: make(map[streamKey]*streamContext)}
}

func (e *Engine) stream(k streamKey) *streamContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.streams[k]
	if !ok {
		c = &streamContext{}
		e.streams[k] = c
	}
	return c
}

// Forget drops every stream context for remote.
func (e *Engine) Forget(remote netip.AddrPort) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.streams {
		if k.remote == remote {
			delete(e.streams, k)
		}
	}
}

// Len returns the number of tracked streams.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streams)
}

// Encrypt protects pkt for delivery to remote under policy. The header is
// copied unchanged, the payload is encrypted, and a TagLen-byte
// authentication tag is appended.
//
// When pkt came from rtp.Decode its Raw bytes are used as-is; otherwise pkt is
// encoded first. Encrypting the same packet twice gives the same output; a
// different packet that would land on an already used index is refused with
// ErrIndexReused.
func (e *Engine) Encrypt(policy Policy, pkt rtp.Packet, remote netip.AddrPort) ([]byte, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	raw := pkt.Raw
	if raw == nil {
		var err error
		if raw, err = pkt.Encode(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedPacket, err)
		}
	}
	headerLen := pkt.HeaderSize()
	if headerLen > len(raw) {
		return nil, fmt.Errorf("%w: payload offset %d beyond %d-byte packet", ErrMalformedPacket, headerLen, len(raw))
	}

	c := e.stream(streamKey{ssrc: pkt.SSRC, remote: remote})
	c.mu.Lock()
	c.adopt(policy)
	roc, index, err := c.nextIndex(pkt.SequenceNumber, xxhash.Sum64(raw))
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	keys, err := c.sessionKeysFor(policy, index)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(raw), len(raw)+TagLen)
	copy(out, raw[:headerLen])
	iv := packetIV(&keys.salt, pkt.SSRC, index)
	cipher.NewCTR(keys.block, iv[:]).XORKeyStream(out[headerLen:], raw[headerLen:])

	mac := hmac.New(sha1.New, keys.authKey)
	mac.Write(out)
	var rocBytes [4]byte
	binary.BigEndian.PutUint32(rocBytes[:], roc)
	mac.Write(rocBytes[:])
	return append(out, mac.Sum(nil)[:TagLen]...), nil
}
