package transport

import (
	"net/netip"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/dtlsbridge"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/srtp"
)

// Peer is one remote transport address talking to the media socket.
type Peer struct {
	remote  netip.AddrPort
	created time.Time
	session *dtlsbridge.Session

	// hsMu serializes the handshake path; the session's inbound queue takes
	// one datagram at a time per peer.
	hsMu      sync.Mutex
	hsStarted bool

	// policyMu guards the lazily derived media policy so two concurrent sends
	// do not both derive it.
	policyMu sync.Mutex
	policy   *srtp.Policy
}

func newPeer(remote netip.AddrPort, created time.Time, session *dtlsbridge.Session) *Peer {
	return &Peer{remote: remote, created: created, session: session}
}

func (p *Peer) Remote() netip.AddrPort { return p.remote }

// feedHandshake queues a handshake datagram. It reports whether this was the
// first, which started the handshake.
func (p *Peer) feedHandshake(b []byte) (started bool, err error) {
	p.hsMu.Lock()
	defer p.hsMu.Unlock()
	if err := p.session.Feed(b); err != nil {
		return false, err
	}
	started = !p.hsStarted
	p.hsStarted = true
	return started, nil
}

// Policy returns the server-side media policy, deriving it from the
// handshake's keying material on first use. It returns ErrNotReady until the
// handshake has completed.
func (p *Peer) Policy() (srtp.Policy, error) {
	p.policyMu.Lock()
	defer p.policyMu.Unlock()
	if p.policy != nil {
		return *p.policy, nil
	}

	select {
	case <-p.session.Done():
	default:
		return srtp.Policy{}, ErrNotReady
	}
	km, err := p.session.KeyingMaterial()
	if err != nil {
		return srtp.Policy{}, ErrNotReady
	}
	policy, err := srtp.ServerPolicy(km)
	if err != nil {
		return srtp.Policy{}, err
	}
	p.policy = &policy
	return policy, nil
}

func (p *Peer) close() error {
	return p.session.Close()
}
