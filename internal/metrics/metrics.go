package metrics

import "sync"

// Event names counted by the relay.
const (
	DatagramReceived       = "datagram_received"
	DatagramDroppedEmpty   = "datagram_dropped_empty"
	DatagramDroppedUnknown = "datagram_dropped_unknown"
	DatagramDroppedLarge   = "datagram_dropped_oversize"

	STUNMalformed         = "stun_malformed"
	STUNBindingRequest    = "stun_binding_request"
	STUNUnsignedResponse  = "stun_unsigned_response"
	STUNIntegrityMismatch = "stun_integrity_mismatch"
	STUNSuccessResponse   = "stun_success_response"

	DTLSHandshakeStarted   = "dtls_handshake_started"
	DTLSHandshakeCompleted = "dtls_handshake_completed"
	DTLSHandshakeFailed    = "dtls_handshake_failed"

	SRTPEncrypted       = "srtp_encrypted"
	SRTPMalformed       = "srtp_malformed"
	SRTPIndexReused     = "srtp_index_reused"
	SendSkippedNotReady = "send_skipped_not_ready"
	SendFailed          = "send_failed"

	PeerCreated           = "peer_created"
	PeerEvicted           = "peer_evicted"
	PeerAdmissionRejected = "peer_admission_rejected"

	RTCPReceived  = "rtcp_received"
	RTCPMalformed = "rtcp_malformed"

	UpstreamRTPReceived  = "upstream_rtp_received"
	UpstreamRTPMalformed = "upstream_rtp_malformed"
	UpstreamRTCPReceived = "upstream_rtcp_received"
	RTCPReportSent       = "rtcp_report_sent"

	SignalingSessionOpened = "signaling_session_opened"
	SignalingAuthFailed    = "signaling_auth_failed"
	SignalingRateLimited   = "signaling_rate_limited"
)

// Metrics is a concurrency-safe counter registry keyed by event name.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
