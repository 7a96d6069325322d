// Package transport is the relay's media front-end: one UDP socket shared by
// every browser peer, carrying connectivity checks, DTLS handshakes and
// encrypted media.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/dtlsbridge"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/registry"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/srtp"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/stun"
)

var (
	ErrNotReady         = errors.New("transport: peer has no media keys yet")
	ErrClosed           = errors.New("transport: closed")
	ErrUnknownPeer      = errors.New("transport: unknown peer")
	ErrTransportFailure = errors.New("transport: send failed")

	errAdmissionLimited = errors.New("transport: new peer admission rate exceeded")
)

const (
	DefaultMaxDatagramBytes = 1500
	DefaultPeerIdleTimeout  = 10 * time.Second
	DefaultSweepInterval    = time.Second
)

type Config struct {
	ListenAddr       string
	MaxDatagramBytes int
	PeerIdleTimeout  time.Duration
	SweepInterval    time.Duration
	// MaxNewPeersPerSecond limits how fast unknown remotes are registered.
	// Zero disables the limit.
	MaxNewPeersPerSecond int
	// EvictOnHandshakeError removes a peer whose handshake fails so its next
	// datagram starts over. Otherwise the failure is only logged and the peer
	// idles out.
	EvictOnHandshakeError bool

	DTLS        dtlsbridge.Config
	Credentials stun.CredentialStore
	// Software is advertised on connectivity-check responses.
	Software string
	Clock    registry.Clock
}

type Server struct {
	log     *slog.Logger
	cfg     Config
	metrics *metrics.Metrics

	conn  *net.UDPConn
	local netip.AddrPort

	peers  *registry.Registry[*Peer]
	engine *srtp.Engine
	stun   *stun.Handler
	admit  *rate.Limiter
	clock  registry.Clock

	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Listen binds the media socket. Serve must be called to start processing.
func Listen(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Server, error) {
	if cfg.MaxDatagramBytes <= 0 {
		cfg.MaxDatagramBytes = DefaultMaxDatagramBytes
	}
	if cfg.PeerIdleTimeout <= 0 {
		cfg.PeerIdleTimeout = DefaultPeerIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = registry.RealClock{}
	}
	if m == nil {
		m = metrics.New()
	}

	addr, err := netip.ParseAddrPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen address %q: %w", cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()

	s := &Server{
		log:     logger.With("component", "transport"),
		cfg:     cfg,
		metrics: m,
		conn:    conn,
		local:   netip.AddrPortFrom(local.Addr().Unmap(), local.Port()),
		peers:   registry.New[*Peer](cfg.Clock),
		engine:  srtp.NewEngine(),
		stun:    &stun.Handler{Credentials: cfg.Credentials, Software: cfg.Software},
		clock:   cfg.Clock,
	}
	if cfg.MaxNewPeersPerSecond > 0 {
		s.admit = rate.NewLimiter(rate.Limit(cfg.MaxNewPeersPerSecond), cfg.MaxNewPeersPerSecond)
	}
	return s, nil
}

// LocalAddr is the bound media socket address.
func (s *Server) LocalAddr() netip.AddrPort { return s.local }

// Err returns ErrClosed once the media socket has been closed.
func (s *Server) Err() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Peers returns the number of registered peers.
func (s *Server) Peers() int { return s.peers.Len() }

// Serve runs the receive loop and the idle sweeper until ctx is done or the
// server is closed. It returns nil on an orderly stop.
func (s *Server) Serve(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.wg.Add(3)
	defer s.wg.Done()
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		_ = s.Close()
	}()
	go func() {
		defer s.wg.Done()
		s.peers.RunSweeper(ctx, s.cfg.SweepInterval, s.cfg.PeerIdleTimeout, s.evicted)
	}()

	s.log.Info("media socket serving", "addr", s.local.String())
	s.readLoop()
	return nil
}

func (s *Server) readLoop() {
	// One spare byte makes oversized datagrams detectable instead of silently
	// truncated.
	buf := make([]byte, s.cfg.MaxDatagramBytes+1)
	for {
		n, remote, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.closed.Load() {
				return
			}
			s.log.Debug("media socket read failed", "err", err)
			continue
		}
		s.metrics.Inc(metrics.DatagramReceived)

		if n == 0 {
			s.metrics.Inc(metrics.DatagramDroppedEmpty)
			continue
		}
		if n > s.cfg.MaxDatagramBytes {
			s.metrics.Inc(metrics.DatagramDroppedLarge)
			continue
		}
		remote = netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port())

		peer, created, err := s.peers.GetOrCreate(remote, func() (*Peer, error) {
			return s.newPeer(remote)
		})
		if err != nil {
			s.metrics.Inc(metrics.PeerAdmissionRejected)
			continue
		}
		if created {
			s.metrics.Inc(metrics.PeerCreated)
			s.log.Debug("peer registered", "remote", remote.String())
		}

		s.dispatch(peer, buf[:n])
	}
}

func (s *Server) newPeer(remote netip.AddrPort) (*Peer, error) {
	if s.admit != nil && !s.admit.Allow() {
		return nil, errAdmissionLimited
	}
	session := dtlsbridge.NewSession(s.cfg.DTLS, s.conn.LocalAddr(), remote, func(b []byte) error {
		return s.write(b, remote)
	})
	return newPeer(remote, s.clock.Now(), session), nil
}

// write sends one datagram. Failures are not retried.
func (s *Server) write(b []byte, remote netip.AddrPort) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, err := s.conn.WriteToUDPAddrPort(b, remote); err != nil {
		s.metrics.Inc(metrics.SendFailed)
		return fmt.Errorf("%w: %s: %w", ErrTransportFailure, remote, err)
	}
	return nil
}

func (s *Server) evicted(ev registry.Evicted[*Peer]) {
	s.engine.Forget(ev.Key)
	_ = ev.Value.close()
	s.metrics.Inc(metrics.PeerEvicted)
	s.log.Debug("peer evicted", "remote", ev.Key.String(), "idle", ev.Idle)
}

// Close stops the receive loop and tears down every peer. Use Wait to block
// until background work has returned.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		var result *multierror.Error
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
		s.peers.Range(func(key netip.AddrPort, p *Peer) bool {
			s.peers.Remove(key)
			s.engine.Forget(key)
			if err := p.close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close peer %s: %w", key, err))
			}
			return true
		})
		s.closeErr = result.ErrorOrNil()
	})
	return s.closeErr
}

// Wait blocks until every goroutine started by Serve has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}
