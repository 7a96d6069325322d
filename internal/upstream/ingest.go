// Package upstream receives the camera's media and control streams over plain
// UDP and forwards media to the browser-facing transport.
package upstream

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

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/rtcp"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/rtp"
)

// Sink receives decoded upstream media packets. The packet's buffers are only
// valid for the duration of the call.
type Sink interface {
	Broadcast(pkt rtp.Packet) int
}

type Config struct {
	RTPListenAddr  string
	RTCPListenAddr string
	// MaxDatagramBytes bounds a single upstream datagram.
	MaxDatagramBytes int
	ReportInterval   time.Duration
	CNAME            string
}

const defaultMaxDatagramBytes = 1500

// Ingest owns the upstream RTP and RTCP sockets.
type Ingest struct {
	log     *slog.Logger
	cfg     Config
	metrics *metrics.Metrics
	sink    Sink
	reports *ReportScheduler

	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn

	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Listen binds both upstream sockets. Serve must be called to start
// receiving.
func Listen(cfg Config, sink Sink, logger *slog.Logger, m *metrics.Metrics) (*Ingest, error) {
	if cfg.MaxDatagramBytes <= 0 {
		cfg.MaxDatagramBytes = defaultMaxDatagramBytes
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	if m == nil {
		m = metrics.New()
	}
	reports, err := NewReportScheduler(cfg.CNAME)
	if err != nil {
		return nil, fmt.Errorf("upstream: report source: %w", err)
	}

	rtpConn, err := listenUDP(cfg.RTPListenAddr)
	if err != nil {
		return nil, err
	}
	rtcpConn, err := listenUDP(cfg.RTCPListenAddr)
	if err != nil {
		_ = rtpConn.Close()
		return nil, err
	}

	return &Ingest{
		log:      logger.With("component", "upstream"),
		cfg:      cfg,
		metrics:  m,
		sink:     sink,
		reports:  reports,
		rtpConn:  rtpConn,
		rtcpConn: rtcpConn,
	}, nil
}

func listenUDP(addr string) (*net.UDPConn, error) {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, fmt.Errorf("upstream: listen address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(ap))
	if err != nil {
		return nil, fmt.Errorf("upstream: listen %s: %w", ap, err)
	}
	return conn, nil
}

func (in *Ingest) RTPAddr() netip.AddrPort {
	return in.rtpConn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (in *Ingest) RTCPAddr() netip.AddrPort {
	return in.rtcpConn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Reports exposes the scheduler so callers can inspect the reporting SSRC.
func (in *Ingest) Reports() *ReportScheduler { return in.reports }

// Serve receives until ctx is done or the ingest is closed.
func (in *Ingest) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in.wg.Add(3)
	go func() {
		defer in.wg.Done()
		<-ctx.Done()
		_ = in.Close()
	}()
	go func() {
		defer in.wg.Done()
		in.controlLoop()
	}()
	go func() {
		defer in.wg.Done()
		in.reports.Run(ctx, in.cfg.ReportInterval, in.sendReport, func(err error) {
			in.log.Warn("receiver report not sent", "err", err)
		})
	}()

	in.log.Info("upstream ingest serving", "rtp", in.RTPAddr().String(), "rtcp", in.RTCPAddr().String())
	in.mediaLoop()
	return nil
}

func (in *Ingest) mediaLoop() {
	buf := make([]byte, in.cfg.MaxDatagramBytes+1)
	for {
		n, from, err := in.rtpConn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || in.closed.Load() {
				return
			}
			in.log.Debug("upstream media read failed", "err", err)
			continue
		}
		if n == 0 || n > in.cfg.MaxDatagramBytes {
			in.metrics.Inc(metrics.UpstreamRTPMalformed)
			continue
		}
		pkt, err := rtp.Decode(buf[:n])
		if err != nil {
			in.metrics.Inc(metrics.UpstreamRTPMalformed)
			in.log.Debug("dropping upstream media", "from", from.String(), "err", err)
			continue
		}
		in.metrics.Inc(metrics.UpstreamRTPReceived)
		in.reports.Track(pkt)
		in.sink.Broadcast(pkt)
	}
}

func (in *Ingest) controlLoop() {
	buf := make([]byte, in.cfg.MaxDatagramBytes+1)
	for {
		n, from, err := in.rtcpConn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || in.closed.Load() {
				return
			}
			in.log.Debug("upstream control read failed", "err", err)
			continue
		}
		if n > in.cfg.MaxDatagramBytes {
			in.metrics.Inc(metrics.RTCPMalformed)
			continue
		}
		packets, err := rtcp.DecodeCompound(buf[:n])
		if err != nil {
			in.metrics.Inc(metrics.RTCPMalformed)
			in.log.Debug("dropping upstream control packet", "from", from.String(), "err", err)
			continue
		}
		in.metrics.Inc(metrics.UpstreamRTCPReceived)
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		for _, p := range packets {
			switch p := p.(type) {
			case *rtcp.SenderReport:
				in.reports.SetSenderReport(p, from)
			case *rtcp.Goodbye:
				for _, ssrc := range p.Sources {
					in.reports.Forget(ssrc)
				}
				in.log.Info("upstream source left", "from", from.String(), "sources", len(p.Sources), "reason", p.Reason)
			}
		}
	}
}

func (in *Ingest) sendReport(r Report) error {
	if in.closed.Load() {
		return net.ErrClosed
	}
	if _, err := in.rtcpConn.WriteToUDPAddrPort(r.Payload, r.To); err != nil {
		return fmt.Errorf("upstream: send report to %s: %w", r.To, err)
	}
	in.metrics.Inc(metrics.RTCPReportSent)
	return nil
}

// Close closes both sockets.
func (in *Ingest) Close() error {
	in.closeOnce.Do(func() {
		in.closed.Store(true)
		var result *multierror.Error
		if err := in.rtpConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("close rtp socket: %w", err))
		}
		if err := in.rtcpConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("close rtcp socket: %w", err))
		}
		in.closeErr = result.ErrorOrNil()
	})
	return in.closeErr
}

// Wait blocks until every goroutine started by Serve has returned.
func (in *Ingest) Wait() {
	in.wg.Wait()
}
