package dtlsbridge

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
	"github.com/pion/logging"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/srtp"
)

// loopback wires a Session to a real UDP socket pair, feeding every datagram
// the relay socket receives into the session.
func loopback(t *testing.T, cfg Config) (*Session, *net.UDPConn, net.Addr) {
	t.Helper()

	relaySock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	clientSock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() {
		_ = relaySock.Close()
		_ = clientSock.Close()
	})

	clientAddr := clientSock.LocalAddr().(*net.UDPAddr).AddrPort()
	sess := NewSession(cfg, relaySock.LocalAddr(), clientAddr, func(b []byte) error {
		_, err := relaySock.WriteToUDPAddrPort(b, clientAddr)
		return err
	})
	t.Cleanup(func() { _ = sess.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, _, err := relaySock.ReadFromUDPAddrPort(buf)
			if err != nil {
				return
			}
			_ = sess.Feed(buf[:n])
		}
	}()
	return sess, clientSock, relaySock.LocalAddr()
}

func clientConfig(t *testing.T) *dtls.Config {
	t.Helper()
	cert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	return &dtls.Config{
		Certificates:           []tls.Certificate{cert},
		InsecureSkipVerify:     true,
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80},
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
		LoggerFactory:          logging.NewDefaultLoggerFactory(),
	}
}

func TestSessionHandshakeExportsKeyingMaterial(t *testing.T) {
	cert, err := GenerateCertificate()
	if err != nil {
		t.Fatalf("GenerateCertificate: %v", err)
	}
	sess, clientSock, relayAddr := loopback(t, Config{
		Certificate:   cert.TLS,
		LoggerFactory: NewLoggerFactory(slog.Default()),
	})

	if _, err := sess.KeyingMaterial(); !errors.Is(err, ErrHandshakeIncomplete) {
		t.Fatalf("KeyingMaterial before handshake err=%v, want ErrHandshakeIncomplete", err)
	}

	client, err := dtls.Client(clientSock, relayAddr, clientConfig(t))
	if err != nil {
		t.Fatalf("dtls.Client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.HandshakeContext(ctx); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		t.Fatalf("session did not finish")
	}
	if err := sess.Err(); err != nil {
		t.Fatalf("session err: %v", err)
	}

	km, err := sess.KeyingMaterial()
	if err != nil {
		t.Fatalf("KeyingMaterial: %v", err)
	}
	if len(km) != srtp.KeyingMaterialLen {
		t.Fatalf("len=%d, want %d", len(km), srtp.KeyingMaterialLen)
	}

	state, ok := client.ConnectionState()
	if !ok {
		t.Fatalf("client has no connection state")
	}
	want, err := state.ExportKeyingMaterial(srtp.ExporterLabel, nil, srtp.KeyingMaterialLen)
	if err != nil {
		t.Fatalf("client ExportKeyingMaterial: %v", err)
	}
	if !bytes.Equal(km, want) {
		t.Fatalf("keying material=%x, want %x", km, want)
	}

	if _, err := srtp.ServerPolicy(km); err != nil {
		t.Fatalf("ServerPolicy: %v", err)
	}
}

func TestSessionHandshakeTimeout(t *testing.T) {
	cert, err := GenerateCertificate()
	if err != nil {
		t.Fatalf("GenerateCertificate: %v", err)
	}
	sess := NewSession(Config{Certificate: cert.TLS, HandshakeTimeout: 200 * time.Millisecond},
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1},
		netip.MustParseAddrPort("127.0.0.1:2"),
		func([]byte) error { return nil })
	defer sess.Close()

	// Not a ClientHello; the engine waits for one until the timeout.
	if err := sess.Feed([]byte{22, 254, 253, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("handshake did not time out")
	}
	if sess.Err() == nil {
		t.Fatalf("Err=nil, want handshake failure")
	}
	if _, err := sess.KeyingMaterial(); err == nil {
		t.Fatalf("KeyingMaterial succeeded after failed handshake")
	}
}

func TestSessionFeedAfterClose(t *testing.T) {
	sess := NewSession(Config{}, nil, netip.MustParseAddrPort("127.0.0.1:2"), func([]byte) error { return nil })
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-sess.Done():
	default:
		t.Fatalf("Done not closed for a session that never started")
	}
	if err := sess.Feed([]byte{22}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Feed err=%v, want ErrSessionClosed", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCertificateFingerprint(t *testing.T) {
	cert, err := GenerateCertificate()
	if err != nil {
		t.Fatalf("GenerateCertificate: %v", err)
	}
	// 32 bytes as colon-separated hex pairs.
	if len(cert.Fingerprint) != 32*3-1 {
		t.Fatalf("fingerprint=%q, want 32 colon-separated bytes", cert.Fingerprint)
	}
	again, err := NewCertificate(cert.TLS)
	if err != nil {
		t.Fatalf("NewCertificate: %v", err)
	}
	if again.Fingerprint != cert.Fingerprint {
		t.Fatalf("fingerprint=%q, want %q", again.Fingerprint, cert.Fingerprint)
	}
	if _, err := NewCertificate(tls.Certificate{}); err == nil {
		t.Fatalf("NewCertificate accepted an empty certificate")
	}
}
