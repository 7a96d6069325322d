package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/dtlsbridge"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/stun"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/transport"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/upstream"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

const software = "aero-camera-webrtc-relay"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting "+software,
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"media_udp_listen_addr", cfg.MediaUDPListenAddr,
		"media_public_ips", len(cfg.MediaPublicIPs),
		"upstream_rtp_listen_addr", cfg.UpstreamRTPListenAddr,
		"upstream_rtcp_listen_addr", cfg.UpstreamRTCPListenAddr,
		"peer_idle_timeout", cfg.PeerIdleTimeout,
		"max_datagram_bytes", cfg.MaxDatagramBytes,
		"dtls_error_policy", cfg.DTLSErrorPolicy,
		"auth_mode", cfg.AuthMode,
	)
	logStartupSecurityWarnings(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		var se *startupError
		if errors.As(err, &se) {
			logger.Error("startup failed", "err", err)
			os.Exit(2)
		}
		logger.Error("relay exited", "err", err)
		os.Exit(1)
	}
}

// startupError marks misconfiguration detected before anything is served.
type startupError struct{ err error }

func (e *startupError) Error() string { return e.err.Error() }
func (e *startupError) Unwrap() error { return e.err }

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	cert, err := dtlsbridge.GenerateCertificate()
	if err != nil {
		return err
	}
	m := metrics.New()
	creds := stun.NewMemoryCredentials()

	media, err := transport.Listen(transport.Config{
		ListenAddr:            cfg.MediaUDPListenAddr,
		MaxDatagramBytes:      cfg.MaxDatagramBytes,
		PeerIdleTimeout:       cfg.PeerIdleTimeout,
		SweepInterval:         cfg.PeerSweepInterval,
		MaxNewPeersPerSecond:  cfg.MaxNewPeersPerSecond,
		EvictOnHandshakeError: cfg.DTLSErrorPolicy == config.HandshakeErrorPolicyEvict,
		DTLS: dtlsbridge.Config{
			Certificate:      cert.TLS,
			HandshakeTimeout: cfg.DTLSHandshakeTimeout,
			LoggerFactory:    dtlsbridge.NewLoggerFactory(logger),
		},
		Credentials: creds,
		Software:    software,
	}, logger, m)
	if err != nil {
		return err
	}
	defer media.Close()

	ingest, err := upstream.Listen(upstream.Config{
		RTPListenAddr:    cfg.UpstreamRTPListenAddr,
		RTCPListenAddr:   cfg.UpstreamRTCPListenAddr,
		MaxDatagramBytes: cfg.MaxDatagramBytes,
		ReportInterval:   cfg.RTCPReportInterval,
		CNAME:            cfg.RTCPCNAME,
	}, media, logger, m)
	if err != nil {
		return err
	}
	defer ingest.Close()

	sig, err := signaling.NewWebSocketServer(cfg, signaling.Media{
		Addr:        media.LocalAddr(),
		Certificate: cert,
		Credentials: creds,
	}, logger, m)
	if err != nil {
		return &startupError{err: fmt.Errorf("configure signaling: %w", err)}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})
	srv.AddReadinessCheck("media", media.Err)
	srv.HandleWithOriginPolicy("GET /signal", sig)
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return media.Serve(gctx) })
	g.Go(func() error { return ingest.Serve(gctx) })
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		sig.Close()
		if err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	media.Wait()
	ingest.Wait()
	return err
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
