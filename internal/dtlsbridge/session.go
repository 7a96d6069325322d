// Package dtlsbridge runs the responder side of the DTLS handshake for each
// peer over the shared media socket and exports the keying material the
// media encryption is derived from.
package dtlsbridge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/logging"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/srtp"
)

var (
	ErrSessionClosed       = errors.New("dtlsbridge: session closed")
	ErrHandshakeIncomplete = errors.New("dtlsbridge: handshake not complete")
)

// DefaultHandshakeTimeout bounds a handshake when Config leaves it unset.
const DefaultHandshakeTimeout = 10 * time.Second

// SendFunc writes one datagram to the session's peer.
type SendFunc func(b []byte) error

type Config struct {
	Certificate      tls.Certificate
	HandshakeTimeout time.Duration
	// MTU caps handshake record sizes. Zero uses the engine default.
	MTU           int
	LoggerFactory logging.LoggerFactory
}

func (c Config) dtlsConfig() *dtls.Config {
	return &dtls.Config{
		Certificates:           []tls.Certificate{c.Certificate},
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80},
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
		ClientAuth:             dtls.RequireAnyClientCert,
		MTU:                    c.MTU,
		LoggerFactory:          c.LoggerFactory,
	}
}

// Session is one peer's handshake. It starts on the first fed datagram and
// finishes once; Done is closed when it has either produced keying material
// or failed.
type Session struct {
	cfg    Config
	remote netip.AddrPort
	pc     *packetConn

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
	conn    *dtls.Conn
	km      []byte
	err     error
	done    chan struct{}
}

// NewSession prepares a handshake with remote. local is reported to the DTLS
// engine as the socket's address.
func NewSession(cfg Config, local net.Addr, remote netip.AddrPort, send SendFunc) *Session {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		remote: remote,
		pc:     newPacketConn(local, net.UDPAddrFromAddrPort(remote), send),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Session) Remote() netip.AddrPort { return s.remote }

// Feed queues one handshake datagram from the peer, starting the handshake if
// this is the first. Callers serialize Feed per peer.
func (s *Session) Feed(b []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.started {
		s.started = true
		go s.run()
	}
	s.mu.Unlock()

	if _, err := s.pc.in.Write(b); err != nil {
		return fmt.Errorf("dtlsbridge: queue datagram from %s: %w", s.remote, err)
	}
	return nil
}

func (s *Session) run() {
	err := s.handshake()

	s.mu.Lock()
	s.err = err
	conn := s.conn
	s.mu.Unlock()
	close(s.done)

	if err != nil {
		return
	}
	// Keep consuming records so retransmitted flights and alerts do not back
	// up the inbound queue. Application data is not expected.
	buf := make([]byte, 8192)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func (s *Session) handshake() error {
	conn, err := dtls.Server(s.pc, s.pc.remote, s.cfg.dtlsConfig())
	if err != nil {
		return fmt.Errorf("dtlsbridge: start handshake with %s: %w", s.remote, err)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("dtlsbridge: handshake with %s: %w", s.remote, err)
	}

	state, ok := conn.ConnectionState()
	if !ok {
		_ = conn.Close()
		return fmt.Errorf("dtlsbridge: handshake with %s: %w", s.remote, ErrHandshakeIncomplete)
	}
	km, err := state.ExportKeyingMaterial(srtp.ExporterLabel, nil, srtp.KeyingMaterialLen)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("dtlsbridge: export keying material for %s: %w", s.remote, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.km = km
	return nil
}

// Done is closed when the handshake has finished, successfully or not.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the handshake failure, or nil if it succeeded or is still
// running.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// KeyingMaterial returns the srtp.KeyingMaterialLen bytes exported from the
// completed handshake.
func (s *Session) KeyingMaterial() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.km == nil {
		if s.err != nil {
			return nil, s.err
		}
		return nil, ErrHandshakeIncomplete
	}
	return s.km, nil
}

// Close aborts a running handshake and releases the session.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	if !s.started {
		s.err = ErrSessionClosed
		close(s.done)
	}
	s.mu.Unlock()

	s.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	_ = s.pc.Close()
	return err
}
