package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/dtlsbridge"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/stun"
)

const wsWriteWait = 1 * time.Second

// Media describes the media socket sessions are pointed at.
type Media struct {
	// Addr is the bound media socket address.
	Addr        netip.AddrPort
	Certificate dtlsbridge.Certificate
	// Credentials receives each session's ICE credentials for as long as the
	// WebSocket stays open.
	Credentials *stun.MemoryCredentials
}

// WebSocketServer hands out media session parameters to browsers.
//
// It enforces authentication (api_key/jwt), an idle timeout kept alive by
// pings, and per-connection message size and rate limits.
type WebSocketServer struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	verifier auth.Verifier
	media    Media
	upgrader websocket.Upgrader

	candidates []webrtc.ICECandidateInit

	mu       sync.Mutex
	closed   bool
	sessions map[*wsSession]struct{}
}

func NewWebSocketServer(cfg config.Config, media Media, logger *slog.Logger, m *metrics.Metrics) (*WebSocketServer, error) {
	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		return nil, err
	}
	if media.Credentials == nil {
		return nil, errors.New("signaling: media credential store is required")
	}
	if m == nil {
		m = metrics.New()
	}

	addrs, err := candidateAddrs(media.Addr, cfg.MediaPublicIPs)
	if err != nil {
		return nil, err
	}
	candidates := hostCandidates(addrs, media.Addr.Port())
	if len(candidates) == 0 {
		logger.Warn("no host candidates to advertise; set MEDIA_PUBLIC_IPS", "media_addr", media.Addr.String())
	}

	return &WebSocketServer{
		cfg:      cfg,
		log:      logger.With("component", "signaling"),
		metrics:  m,
		verifier: verifier,
		media:    media,
		// Origin is enforced by the HTTP server's origin middleware.
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		candidates: candidates,
		sessions:   make(map[*wsSession]struct{}),
	}, nil
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wss := &wsSession{
		srv:     s,
		conn:    conn,
		req:     r,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MaxSignalingMessagesPerSecond), max(1, s.cfg.MaxSignalingMessagesPerSecond)),
		done:    make(chan struct{}),
	}
	if !s.track(wss) {
		wss.closeWith(websocket.CloseGoingAway, "shutting down")
		_ = conn.Close()
		return
	}
	defer s.untrack(wss)
	wss.run()
}

func (s *WebSocketServer) track(wss *wsSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[wss] = struct{}{}
	return true
}

func (s *WebSocketServer) untrack(wss *wsSession) {
	s.mu.Lock()
	delete(s.sessions, wss)
	s.mu.Unlock()
}

// Close ends every open session. Upgraded connections are not covered by
// http.Server.Shutdown.
func (s *WebSocketServer) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*wsSession, 0, len(s.sessions))
	for wss := range s.sessions {
		sessions = append(sessions, wss)
	}
	s.mu.Unlock()

	for _, wss := range sessions {
		wss.closeWith(websocket.CloseGoingAway, "shutting down")
		_ = wss.conn.Close()
	}
}

type wsSession struct {
	srv     *WebSocketServer
	conn    *websocket.Conn
	req     *http.Request
	limiter *rate.Limiter

	// authenticated and ufrag are only touched by the reading goroutine.
	authenticated bool
	ufrag         string

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (wss *wsSession) run() {
	defer wss.Close()

	s := wss.srv
	wss.conn.SetReadLimit(s.cfg.MaxSignalingMessageBytes)
	wss.extendDeadline()
	// Pongs keep an authenticated session alive; an unauthenticated one
	// must authenticate before its first deadline.
	wss.conn.SetPongHandler(func(string) error {
		if wss.authenticated {
			wss.extendDeadline()
		}
		return nil
	})
	go wss.keepalive()

	wss.authenticated = s.verifier == nil
	if !wss.authenticated {
		cred, err := auth.CredentialFromRequest(s.cfg.AuthMode, wss.req)
		switch {
		case err == nil:
			if err := s.verifier.Verify(cred); err != nil {
				s.metrics.Inc(metrics.SignalingAuthFailed)
				wss.fail("unauthorized", "invalid credentials", websocket.ClosePolicyViolation, "unauthorized")
				return
			}
			wss.authenticated = true
		case !errors.Is(err, auth.ErrMissingCredentials):
			wss.fail("internal_error", "invalid auth configuration", websocket.CloseInternalServerErr, "internal error")
			return
		}
	}
	if wss.authenticated {
		if err := wss.open(); err != nil {
			s.log.Error("signaling session not opened", "err", err)
			wss.fail("internal_error", "failed to create session", websocket.CloseInternalServerErr, "internal error")
			return
		}
	}

	for {
		msgType, reader, err := wss.conn.NextReader()
		if err != nil {
			if isTimeout(err) {
				if !wss.authenticated {
					s.metrics.Inc(metrics.SignalingAuthFailed)
					wss.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
				} else {
					wss.closeWith(websocket.CloseGoingAway, "idle timeout")
				}
			} else if errors.Is(err, websocket.ErrReadLimit) {
				wss.closeWith(websocket.CloseMessageTooBig, "message too large")
			}
			return
		}
		data, err := readLimited(reader, s.cfg.MaxSignalingMessageBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) || errors.Is(err, websocket.ErrReadLimit) {
				wss.closeWith(websocket.CloseMessageTooBig, "message too large")
				return
			}
			return
		}
		wss.extendDeadline()

		// Rate limit after reading so the close frame is not lost to a reset
		// caused by unread data.
		if !wss.limiter.Allow() {
			s.metrics.Inc(metrics.SignalingRateLimited)
			wss.fail("rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			wss.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			wss.fail("bad_message", err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}

		if !wss.authenticated {
			if msg.Type != messageTypeAuth {
				s.metrics.Inc(metrics.SignalingAuthFailed)
				wss.fail("unauthorized", "authentication required", websocket.ClosePolicyViolation, "authentication required")
				return
			}
			if err := s.verifier.Verify(msg.credential(s.cfg.AuthMode)); err != nil {
				s.metrics.Inc(metrics.SignalingAuthFailed)
				wss.fail("unauthorized", "invalid credentials", websocket.ClosePolicyViolation, "unauthorized")
				return
			}
			wss.authenticated = true
			if err := wss.open(); err != nil {
				s.log.Error("signaling session not opened", "err", err)
				wss.fail("internal_error", "failed to create session", websocket.CloseInternalServerErr, "internal error")
				return
			}
			continue
		}

		switch msg.Type {
		case messageTypeAuth:
			// Tolerated after the session is open, e.g. when a client sends
			// both query and in-band credentials.
		case messageTypeCandidate:
			// The relay learns peer addresses from connectivity checks;
			// trickled candidates are informational.
			s.log.Debug("ignoring remote candidate", "ufrag", wss.ufrag, "candidate", msg.Candidate.Candidate)
		case messageTypeClose:
			wss.closeWith(websocket.CloseNormalClosure, "")
			return
		}
	}
}

// open registers fresh ICE credentials and sends the session parameters.
func (wss *wsSession) open() error {
	s := wss.srv
	creds, err := stun.GenerateCredentials()
	if err != nil {
		return err
	}
	s.media.Credentials.AddUser(creds.Ufrag, creds.Password)
	wss.ufrag = creds.Ufrag

	iceServers := s.cfg.ICEServers
	if iceServers == nil {
		iceServers = []webrtc.ICEServer{}
	}
	msg := sessionMessage{
		Type:      messageTypeSession,
		SessionID: uuid.NewString(),
		ICEParameters: webrtc.ICEParameters{
			UsernameFragment: creds.Ufrag,
			Password:         creds.Password,
			ICELite:          true,
		},
		Fingerprint: webrtc.DTLSFingerprint{
			Algorithm: dtlsbridge.FingerprintAlgorithm,
			Value:     s.media.Certificate.Fingerprint,
		},
		Candidates: s.candidates,
		ICEServers: iceServers,
	}
	if err := wss.send(msg); err != nil {
		return err
	}
	s.metrics.Inc(metrics.SignalingSessionOpened)
	s.log.Info("signaling session opened", "session_id", msg.SessionID, "ufrag", creds.Ufrag)
	return nil
}

func (wss *wsSession) extendDeadline() {
	_ = wss.conn.SetReadDeadline(time.Now().Add(wss.srv.cfg.SignalingWSIdleTimeout))
}

func (wss *wsSession) keepalive() {
	interval := wss.srv.cfg.SignalingWSPingInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-wss.done:
			return
		case <-ticker.C:
			wss.writeMu.Lock()
			err := wss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			wss.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (wss *wsSession) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return wss.conn.WriteMessage(websocket.TextMessage, data)
}

func (wss *wsSession) fail(code, message string, closeCode int, closeReason string) {
	_ = wss.send(errorMessage{Type: messageTypeError, Code: code, Message: message})
	wss.closeWith(closeCode, closeReason)
}

func (wss *wsSession) closeWith(code int, reason string) {
	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// Close retires the session's ICE credentials and closes the socket.
func (wss *wsSession) Close() {
	wss.closeOnce.Do(func() {
		close(wss.done)
		if wss.ufrag != "" {
			wss.srv.media.Credentials.RemoveUser(wss.ufrag)
		}
		_ = wss.conn.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}
