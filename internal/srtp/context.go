package srtp

import (
	"bytes"
	"fmt"
	"sync"
)

// wrapThreshold is how far the sequence number must fall, modulo 2^16, before
// the drop is read as a wrap rather than reordering.
const wrapThreshold = 1 << 15

// sendWindow is how many indexes below the highest one a stream still
// remembers. Older indexes cannot be checked and are refused.
const sendWindow = 64

// sentIndex records the digest of the packet protected under index.
type sentIndex struct {
	index  uint64
	digest uint64
	used   bool
}

// streamContext tracks one (SSRC, remote) stream: the rollover counter, the
// highest sequence number seen, the indexes recently protected, and the
// session keys for the current epoch.
type streamContext struct {
	mu      sync.Mutex
	started bool
	roc     uint32
	lastSeq uint16
	sent    [sendWindow]sentIndex
	keys    *sessionKeys

	// master is a copy of the policy's key and salt the keys were derived
	// from; a different policy resets the stream.
	master []byte
}

// nextIndex returns the rollover counter and packet index for seq and records
// that a packet with digest was protected under it.
//
// The counter is incremented when seq is numerically smaller than the last
// sequence number and the drop exceeds half the sequence space. Once the
// counter is non-zero, a packet numerically larger by more than half the
// space arrived late from before the last wrap and is indexed with the
// previous counter. Before the first wrap such a jump moves the stream
// forward. Only packets newer than the highest index move the state.
//
// An index is never used for two different packets: a packet that lands on
// an index already recorded with another digest, or on one more than
// sendWindow below the highest, gets ErrIndexReused. Protecting the same
// packet again yields the same index.
func (c *streamContext) nextIndex(seq uint16, digest uint64) (roc uint32, index uint64, err error) {
	roc = c.roc
	switch {
	case !c.started:
	case seq < c.lastSeq && c.lastSeq-seq > wrapThreshold:
		roc++
	case seq > c.lastSeq && seq-c.lastSeq > wrapThreshold && roc > 0:
		roc--
	}
	index = uint64(roc)<<16 | uint64(seq)

	high := uint64(c.roc)<<16 | uint64(c.lastSeq)
	slot := &c.sent[index%sendWindow]
	switch {
	case !c.started || index > high:
		c.started = true
		c.roc = roc
		c.lastSeq = seq
	case high-index >= sendWindow:
		return 0, 0, fmt.Errorf("%w: index %d is %d behind %d", ErrIndexReused, index, high-index, high)
	case slot.used && slot.index == index && slot.digest != digest:
		return 0, 0, fmt.Errorf("%w: index %d", ErrIndexReused, index)
	}
	*slot = sentIndex{index: index, digest: digest, used: true}
	return roc, index, nil
}

// sessionKeysFor returns keys for index under p, deriving them on first use,
// when the epoch changes, or when p differs from the policy the stream was
// started with.
func (c *streamContext) sessionKeysFor(p Policy, index uint64) (*sessionKeys, error) {
	epoch := epochOf(p, index)
	if c.keys != nil && c.keys.epoch == epoch {
		return c.keys, nil
	}
	keys, err := deriveSessionKeys(p, epoch)
	if err != nil {
		return nil, err
	}
	c.keys = keys
	return keys, nil
}

// adopt resets the stream if p is not the policy it was keyed with.
func (c *streamContext) adopt(p Policy) {
	if c.master != nil && bytes.Equal(c.master[:KeyLen], p.MasterKey) && bytes.Equal(c.master[KeyLen:], p.MasterSalt) {
		return
	}
	c.started = false
	c.roc = 0
	c.lastSeq = 0
	c.sent = [sendWindow]sentIndex{}
	c.keys = nil
	c.master = append(append(make([]byte, 0, KeyLen+SaltLen), p.MasterKey...), p.MasterSalt...)
}
