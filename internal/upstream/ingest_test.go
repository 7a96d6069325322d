package upstream

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/rtcp"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/rtp"
)

type recordingSink struct {
	mu      sync.Mutex
	packets []rtp.Packet
}

func (s *recordingSink) Broadcast(pkt rtp.Packet) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkt.Payload = append([]byte(nil), pkt.Payload...)
	pkt.Raw = nil
	s.packets = append(s.packets, pkt)
	return 1
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

func startIngest(t *testing.T, sink Sink, interval time.Duration) (*Ingest, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	in, err := Listen(Config{
		RTPListenAddr:  "127.0.0.1:0",
		RTCPListenAddr: "127.0.0.1:0",
		ReportInterval: interval,
		CNAME:          "relay@test",
	}, sink, slog.New(slog.NewTextHandler(io.Discard, nil)), m)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
		in.Wait()
	})
	return in, m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIngestForwardsMedia(t *testing.T) {
	sink := &recordingSink{}
	in, m := startIngest(t, sink, time.Hour)

	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(in.RTPAddr()))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer conn.Close()

	b, err := rtp.Packet{PayloadType: 96, SequenceNumber: 5, SSRC: 0xabc, Payload: []byte("nal")}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := conn.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := conn.Write([]byte{0x00, 0x01}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	waitFor(t, "forwarded packet", func() bool {
		return sink.Len() == 1 && m.Get(metrics.UpstreamRTPMalformed) == 1
	})
	sink.mu.Lock()
	got := sink.packets[0]
	sink.mu.Unlock()
	if got.SSRC != 0xabc || got.SequenceNumber != 5 || string(got.Payload) != "nal" {
		t.Fatalf("packet=%+v", got)
	}
	if got := m.Get(metrics.UpstreamRTPReceived); got != 1 {
		t.Fatalf("received=%d, want 1", got)
	}
}

func TestIngestAnswersSenderReports(t *testing.T) {
	in, m := startIngest(t, &recordingSink{}, 20*time.Millisecond)

	media, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(in.RTPAddr()))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer media.Close()
	control, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(in.RTCPAddr()))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer control.Close()

	for seq := uint16(1); seq <= 3; seq++ {
		b, err := rtp.Packet{PayloadType: 96, SequenceNumber: seq, SSRC: 0x5150}.Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if _, err := media.Write(b); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	waitFor(t, "media tracked", func() bool { return m.Get(metrics.UpstreamRTPReceived) == 3 })

	sr, err := rtcp.MarshalCompound(
		&rtcp.SenderReport{SSRC: 0x5150, NTPTime: 0xe000000010000000, PacketCount: 3},
		&rtcp.SourceDescription{Chunks: []rtcp.SourceDescriptionChunk{{
			Source: 0x5150,
			Items:  []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: "camera"}},
		}}},
	)
	if err != nil {
		t.Fatalf("MarshalCompound: %v", err)
	}
	if _, err := control.Write(sr); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = control.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1500)
	n, err := control.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	packets, err := rtcp.DecodeCompound(buf[:n])
	if err != nil {
		t.Fatalf("DecodeCompound: %v", err)
	}
	rr, ok := packets[0].(*rtcp.ReceiverReport)
	if !ok {
		t.Fatalf("first packet=%T, want receiver report", packets[0])
	}
	if rr.SSRC != in.Reports().SSRC() {
		t.Fatalf("ssrc=%x, want %x", rr.SSRC, in.Reports().SSRC())
	}
	if len(rr.Reports) != 1 || rr.Reports[0].SSRC != 0x5150 || rr.Reports[0].LastSenderReport != 0x00001000 {
		t.Fatalf("reports=%+v", rr.Reports)
	}
	sdes, ok := packets[1].(*rtcp.SourceDescription)
	if !ok {
		t.Fatalf("second packet=%T, want source description", packets[1])
	}
	if cname, ok := sdes.CNAME(rr.SSRC); !ok || cname != "relay@test" {
		t.Fatalf("cname=%q, want relay@test", cname)
	}
	waitFor(t, "report metric", func() bool { return m.Get(metrics.RTCPReportSent) >= 1 })
	if got := m.Get(metrics.UpstreamRTCPReceived); got != 1 {
		t.Fatalf("control received=%d, want 1", got)
	}
}

func TestIngestCloseIsIdempotent(t *testing.T) {
	in, err := Listen(Config{RTPListenAddr: "127.0.0.1:0", RTCPListenAddr: "127.0.0.1:0"}, &recordingSink{}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := in.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := in.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
