package transport

import (
	"errors"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/demux"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/rtcp"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/rtp"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/stun"
)

// dispatch hands one datagram from peer off the receive loop. Handshake
// records go straight into the peer's ordered inbound queue, which the DTLS
// engine drains on the session's goroutine. Everything else is copied and
// processed on its own goroutine. Failures only affect this datagram.
func (s *Server) dispatch(peer *Peer, b []byte) {
	proto := demux.Classify(b)
	if proto == demux.Handshake {
		s.handleHandshake(peer, b)
		return
	}

	data := append([]byte(nil), b...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(peer, proto, data)
	}()
}

func (s *Server) process(peer *Peer, proto demux.Protocol, data []byte) {
	switch proto {
	case demux.Connectivity:
		s.handleConnectivity(peer, data)
	case demux.Media:
		s.handleMedia(peer, data)
	default:
		s.metrics.Inc(metrics.DatagramDroppedUnknown)
		s.log.Debug("dropping unclassified datagram", "remote", peer.remote.String(), "first_byte", data[0])
	}
}

func (s *Server) handleConnectivity(peer *Peer, data []byte) {
	reply, err := s.stun.Handle(data, peer.remote)
	if err != nil {
		if errors.Is(err, stun.ErrIntegrityMismatch) {
			s.metrics.Inc(metrics.STUNIntegrityMismatch)
		} else {
			s.metrics.Inc(metrics.STUNMalformed)
		}
		s.log.Debug("dropping connectivity check", "remote", peer.remote.String(), "err", err)
		return
	}

	switch reply.Received {
	case stun.BindingRequest:
		s.metrics.Inc(metrics.STUNBindingRequest)
	case stun.BindingSuccessResponse:
		s.metrics.Inc(metrics.STUNSuccessResponse)
	}
	if reply.Datagram == nil {
		return
	}
	if reply.Unsigned {
		s.metrics.Inc(metrics.STUNUnsignedResponse)
		s.log.Debug("answering connectivity check unsigned", "remote", peer.remote.String(), "err", stun.ErrMissingCredential)
	}
	if err := s.write(reply.Datagram, peer.remote); err != nil {
		s.log.Warn("connectivity response not sent", "remote", peer.remote.String(), "err", err)
	}
}

func (s *Server) handleHandshake(peer *Peer, data []byte) {
	started, err := peer.feedHandshake(data)
	if err != nil {
		s.log.Debug("dropping handshake datagram", "remote", peer.remote.String(), "err", err)
		return
	}
	if started {
		s.metrics.Inc(metrics.DTLSHandshakeStarted)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.awaitHandshake(peer)
		}()
	}
}

// awaitHandshake applies the handshake error policy once peer's handshake
// finishes.
func (s *Server) awaitHandshake(peer *Peer) {
	<-peer.session.Done()
	err := peer.session.Err()
	if err == nil {
		s.metrics.Inc(metrics.DTLSHandshakeCompleted)
		s.log.Info("dtls handshake completed", "remote", peer.remote.String())
		return
	}
	if s.closed.Load() {
		return
	}

	s.metrics.Inc(metrics.DTLSHandshakeFailed)
	if !s.cfg.EvictOnHandshakeError {
		s.log.Warn("dtls handshake failed", "remote", peer.remote.String(), "err", err)
		return
	}
	if s.peers.RemoveIf(peer.remote, func(p *Peer) bool { return p == peer }) {
		s.engine.Forget(peer.remote)
		_ = peer.close()
		s.metrics.Inc(metrics.PeerEvicted)
	}
	s.log.Warn("dtls handshake failed; peer evicted", "remote", peer.remote.String(), "err", err)
}

// handleMedia accounts for media-class traffic from a peer. Viewers only
// send control packets (receiver reports, feedback); their bodies are
// encrypted, so only the clear header is inspected.
func (s *Server) handleMedia(peer *Peer, data []byte) {
	if !rtp.IsControl(data) {
		s.log.Debug("ignoring inbound media", "remote", peer.remote.String(), "len", len(data))
		return
	}
	h, err := rtcp.DecodeHeader(data)
	if err != nil {
		s.metrics.Inc(metrics.RTCPMalformed)
		s.log.Debug("dropping control packet", "remote", peer.remote.String(), "err", err)
		return
	}
	s.metrics.Inc(metrics.RTCPReceived)
	s.log.Debug("control packet from peer", "remote", peer.remote.String(), "type", h.Type.String(), "len", len(data))
}
