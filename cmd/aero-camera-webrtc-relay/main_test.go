package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/config"
)

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Config{
		ListenAddr:                    "127.0.0.1:0",
		Mode:                          config.ModeDev,
		ShutdownTimeout:               2 * time.Second,
		MediaUDPListenAddr:            "127.0.0.1:0",
		PeerIdleTimeout:               config.DefaultPeerIdleTimeout,
		PeerSweepInterval:             config.DefaultPeerSweepInterval,
		MaxDatagramBytes:              config.DefaultMaxDatagramBytes,
		DTLSHandshakeTimeout:          config.DefaultDTLSHandshakeTimeout,
		DTLSErrorPolicy:               config.HandshakeErrorPolicyEvict,
		UpstreamRTPListenAddr:         "127.0.0.1:0",
		UpstreamRTCPListenAddr:        "127.0.0.1:0",
		RTCPReportInterval:            time.Second,
		RTCPCNAME:                     "relay@test",
		AuthMode:                      config.AuthModeNone,
		SignalingWSIdleTimeout:        config.DefaultSignalingWSIdleTimeout,
		SignalingWSPingInterval:       config.DefaultSignalingWSPingInterval,
		MaxSignalingMessageBytes:      config.DefaultMaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: config.DefaultMaxSignalingMessagesPerSecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}

func TestRunRejectsBadMediaAddress(t *testing.T) {
	cfg := config.Config{MediaUDPListenAddr: "not-an-address"}
	if err := run(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("run accepted an invalid media address")
	}
}
