package upstream

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/pion/randutil"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/rtcp"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/rtp"
)

// DefaultReportInterval is the fixed minimum RTCP interval RFC 3550 recommends.
const DefaultReportInterval = 5 * time.Second

// maxReportsPerPacket is the largest count a report header can carry.
const maxReportsPerPacket = 31

// sourceStats is the per-SSRC reception state of RFC 3550 appendix A.1.
type sourceStats struct {
	baseSeq  uint32
	maxSeq   uint16
	cycles   uint32
	received uint32

	expectedPrior uint32
	receivedPrior uint32
}

func newSourceStats(seq uint16) *sourceStats {
	return &sourceStats{baseSeq: uint32(seq), maxSeq: seq, received: 1}
}

func (s *sourceStats) update(seq uint16) {
	s.received++
	delta := seq - s.maxSeq
	if delta == 0 || delta >= 1<<15 {
		// Duplicate or reordered.
		return
	}
	if seq < s.maxSeq {
		s.cycles += 1 << 16
	}
	s.maxSeq = seq
}

func (s *sourceStats) extendedMax() uint32 { return s.cycles + uint32(s.maxSeq) }

// report fills the loss fields of a reception report and starts a new
// interval for the fraction-lost computation.
func (s *sourceStats) report(ssrc uint32) rtcp.ReceptionReport {
	extMax := s.extendedMax()
	expected := extMax - s.baseSeq + 1

	lost := int64(expected) - int64(s.received)
	switch {
	case lost < 0:
		lost = 0
	case lost > 0x7fffff:
		lost = 0x7fffff
	}

	expectedInterval := expected - s.expectedPrior
	receivedInterval := s.received - s.receivedPrior
	s.expectedPrior = expected
	s.receivedPrior = s.received

	var fraction uint8
	if expectedInterval > 0 && expectedInterval > receivedInterval {
		fraction = uint8((uint64(expectedInterval-receivedInterval) << 8) / uint64(expectedInterval))
	}
	return rtcp.ReceptionReport{
		SSRC:               ssrc,
		FractionLost:       fraction,
		TotalLost:          uint32(lost),
		LastSequenceNumber: extMax,
	}
}

type senderReport struct {
	ntpTime  uint64
	from     netip.AddrPort
	received time.Time
}

// Report is one compound control packet due for an upstream sender.
type Report struct {
	To      netip.AddrPort
	Payload []byte
}

// ReportScheduler produces receiver reports for the upstream media sources.
// Sources are tracked from their media packets; a report for a source goes out
// only after a sender report from it has been seen in the current interval.
type ReportScheduler struct {
	ssrc  uint32
	cname string
	now   func() time.Time

	mu      sync.Mutex
	sources map[uint32]*sourceStats
	senders map[uint32]senderReport
}

// NewReportScheduler returns a scheduler that reports as a random local SSRC
// carrying cname.
func NewReportScheduler(cname string) (*ReportScheduler, error) {
	ssrc, err := randutil.CryptoUint64()
	if err != nil {
		return nil, err
	}
	return &ReportScheduler{
		ssrc:    uint32(ssrc),
		cname:   cname,
		now:     time.Now,
		sources: make(map[uint32]*sourceStats),
		senders: make(map[uint32]senderReport),
	}, nil
}

// SSRC is the source identifier reports are sent as.
func (s *ReportScheduler) SSRC() uint32 { return s.ssrc }

// Track records the arrival of a media packet.
func (s *ReportScheduler) Track(pkt rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sources[pkt.SSRC]; ok {
		st.update(pkt.SequenceNumber)
		return
	}
	s.sources[pkt.SSRC] = newSourceStats(pkt.SequenceNumber)
}

// SetSenderReport records the latest sender report from a source and the
// address it came from, which is where the receiver report will be sent.
func (s *ReportScheduler) SetSenderReport(sr *rtcp.SenderReport, from netip.AddrPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senders[sr.SSRC] = senderReport{ntpTime: sr.NTPTime, from: from, received: s.now()}
}

// Forget drops a source, as when it says goodbye.
func (s *ReportScheduler) Forget(ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, ssrc)
	delete(s.senders, ssrc)
}

// Collect builds the reports due now and clears the sender-report table.
func (s *ReportScheduler) Collect() ([]Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	byDest := make(map[netip.AddrPort][]rtcp.ReceptionReport)
	ssrcs := make([]uint32, 0, len(s.senders))
	for ssrc := range s.senders {
		ssrcs = append(ssrcs, ssrc)
	}
	sort.Slice(ssrcs, func(i, j int) bool { return ssrcs[i] < ssrcs[j] })

	for _, ssrc := range ssrcs {
		sr := s.senders[ssrc]
		st, ok := s.sources[ssrc]
		if !ok {
			continue
		}
		rr := st.report(ssrc)
		rr.LastSenderReport = uint32(sr.ntpTime >> 16)
		rr.Delay = delayUnits(now.Sub(sr.received))
		byDest[sr.from] = append(byDest[sr.from], rr)
	}
	clear(s.senders)

	var out []Report
	for dest, reports := range byDest {
		for len(reports) > 0 {
			n := min(len(reports), maxReportsPerPacket)
			b, err := rtcp.MarshalCompound(
				&rtcp.ReceiverReport{SSRC: s.ssrc, Reports: reports[:n]},
				&rtcp.SourceDescription{Chunks: []rtcp.SourceDescriptionChunk{{
					Source: s.ssrc,
					Items:  []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: s.cname}},
				}}},
			)
			if err != nil {
				return nil, err
			}
			out = append(out, Report{To: dest, Payload: b})
			reports = reports[n:]
		}
	}
	return out, nil
}

// delayUnits converts d to units of 1/65536 seconds.
func delayUnits(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(uint64(d) * 65536 / uint64(time.Second))
}

// Run calls Collect every interval and hands each report to send until ctx is
// done.
func (s *ReportScheduler) Run(ctx context.Context, interval time.Duration, send func(Report) error, onError func(error)) {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reports, err := s.Collect()
			if err != nil {
				onError(err)
				continue
			}
			for _, r := range reports {
				if err := send(r); err != nil {
					onError(err)
				}
			}
		}
	}
}
