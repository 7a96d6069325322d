package transport

import (
	"errors"
	"net/netip"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/rtp"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/srtp"
)

// Broadcast encrypts pkt separately for every registered peer and sends it.
// Peers whose handshake has not produced keys are skipped. It returns how
// many peers the packet was sent to.
func (s *Server) Broadcast(pkt rtp.Packet) int {
	if s.closed.Load() {
		return 0
	}
	sent := 0
	s.peers.Range(func(remote netip.AddrPort, peer *Peer) bool {
		err := s.sendMedia(peer, pkt)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrNotReady):
			s.metrics.Inc(metrics.SendSkippedNotReady)
		default:
			s.log.Debug("media not sent", "remote", remote.String(), "ssrc", pkt.SSRC, "seq", pkt.SequenceNumber, "err", err)
		}
		return true
	})
	return sent
}

// SendTo encrypts and sends pkt to one registered peer.
func (s *Server) SendTo(remote netip.AddrPort, pkt rtp.Packet) error {
	if s.closed.Load() {
		return ErrClosed
	}
	peer, ok := s.peers.Get(remote)
	if !ok {
		return ErrUnknownPeer
	}
	return s.sendMedia(peer, pkt)
}

func (s *Server) sendMedia(peer *Peer, pkt rtp.Packet) error {
	policy, err := peer.Policy()
	if err != nil {
		return err
	}
	out, err := s.engine.Encrypt(policy, pkt, peer.remote)
	if err != nil {
		switch {
		case errors.Is(err, srtp.ErrMalformedPacket):
			s.metrics.Inc(metrics.SRTPMalformed)
		case errors.Is(err, srtp.ErrIndexReused):
			s.metrics.Inc(metrics.SRTPIndexReused)
		}
		return err
	}
	if err := s.write(out, peer.remote); err != nil {
		return err
	}
	s.metrics.Inc(metrics.SRTPEncrypted)
	return nil
}
