package signaling

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/pion/webrtc/v4"
	"github.com/wlynxg/anet"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/stun"
)

// hostTypePreference is the RFC 8445 recommended type preference for host
// candidates.
const hostTypePreference = 126

// candidateAddrs returns the addresses to advertise for a media socket bound
// to media. Configured public addresses win; an unspecified bind address is
// expanded to the host's usable interface addresses.
func candidateAddrs(media netip.AddrPort, public []netip.Addr) ([]netip.Addr, error) {
	if len(public) > 0 {
		return public, nil
	}
	if !media.Addr().IsUnspecified() {
		return []netip.Addr{media.Addr().Unmap()}, nil
	}

	ifaceAddrs, err := anet.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("signaling: list interface addresses: %w", err)
	}
	wantV4Only := media.Addr().Unmap().Is4()
	var out []netip.Addr
	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsMulticast() || addr.IsUnspecified() {
			continue
		}
		if wantV4Only && !addr.Is4() {
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

// hostCandidates describes addrs as UDP host candidates on port, highest
// priority first.
func hostCandidates(addrs []netip.Addr, port uint16) []webrtc.ICECandidateInit {
	out := make([]webrtc.ICECandidateInit, 0, len(addrs))
	for i, addr := range addrs {
		localPref := uint16(65535 - i)
		c := webrtc.ICECandidate{
			Foundation: fmt.Sprintf("%d", i+1),
			Priority:   stun.CandidatePriority(hostTypePreference, localPref, 1),
			Address:    addr.String(),
			Protocol:   webrtc.ICEProtocolUDP,
			Port:       port,
			Typ:        webrtc.ICECandidateTypeHost,
			Component:  1,
		}
		out = append(out, c.ToJSON())
	}
	return out
}
