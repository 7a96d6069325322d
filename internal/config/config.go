package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/origin"
)

const (
	envVarListenAddr      = "AERO_CAMERA_RELAY_LISTEN_ADDR"
	envVarMode            = "AERO_CAMERA_RELAY_MODE"
	envVarLogFormat       = "AERO_CAMERA_RELAY_LOG_FORMAT"
	envVarLogLevel        = "AERO_CAMERA_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_CAMERA_RELAY_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Media socket and peer lifecycle.
	envVarMediaUDPListenAddr   = "MEDIA_UDP_LISTEN_ADDR"
	envVarMediaPublicIPs       = "MEDIA_PUBLIC_IPS"
	envVarPeerIdleTimeout      = "PEER_IDLE_TIMEOUT"
	envVarPeerSweepInterval    = "PEER_SWEEP_INTERVAL"
	envVarMaxDatagramBytes     = "MAX_DATAGRAM_BYTES"
	envVarDTLSHandshakeTimeout = "DTLS_HANDSHAKE_TIMEOUT"
	envVarDTLSErrorPolicy      = "DTLS_ERROR_POLICY"
	envVarMaxNewPeersPerSecond = "MAX_NEW_PEERS_PER_SECOND"

	// Upstream camera feed.
	envVarUpstreamRTPListenAddr  = "UPSTREAM_RTP_LISTEN_ADDR"
	envVarUpstreamRTCPListenAddr = "UPSTREAM_RTCP_LISTEN_ADDR"
	envVarRTCPReportInterval     = "RTCP_REPORT_INTERVAL"
	envVarRTCPCNAME              = "RTCP_CNAME"

	// Signaling / WebSocket auth + hardening.
	envVarAuthMode                      = "AUTH_MODE"
	envVarAPIKey                        = "API_KEY"
	envVarJWTSecret                     = "JWT_SECRET"
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdown             = 15 * time.Second
	DefaultMode            Mode = ModeDev
	DefaultMediaUDPListen       = "0.0.0.0:50000"
	DefaultPeerIdleTimeout      = 10 * time.Second
	DefaultPeerSweepInterval    = time.Second
	DefaultMaxDatagramBytes     = 1500
	DefaultDTLSHandshakeTimeout = 10 * time.Second

	DefaultDTLSErrorPolicy HandshakeErrorPolicy = HandshakeErrorPolicyEvict

	DefaultUpstreamRTPListenAddr  = "127.0.0.1:5004"
	DefaultUpstreamRTCPListenAddr = "127.0.0.1:5005"
	DefaultRTCPReportInterval     = 5 * time.Second

	DefaultAuthMode AuthMode = AuthModeNone

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(16 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 20
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeJWT    AuthMode = "jwt"
)

// HandshakeErrorPolicy decides what happens to a peer whose DTLS handshake
// fails.
type HandshakeErrorPolicy string

const (
	// HandshakeErrorPolicyEvict removes the peer so its next datagram starts a
	// fresh handshake.
	HandshakeErrorPolicyEvict HandshakeErrorPolicy = "evict"
	// HandshakeErrorPolicyLog keeps the failed peer until it idles out.
	HandshakeErrorPolicyLog HandshakeErrorPolicy = "log"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	// ICEServers are handed to browsers during signaling. The relay itself is
	// ICE-lite and never gathers through them.
	ICEServers []webrtc.ICEServer

	MediaUDPListenAddr string
	// MediaPublicIPs are advertised as host candidates instead of the
	// interface addresses of the media socket.
	MediaPublicIPs       []netip.Addr
	PeerIdleTimeout      time.Duration
	PeerSweepInterval    time.Duration
	MaxDatagramBytes     int
	DTLSHandshakeTimeout time.Duration
	DTLSErrorPolicy      HandshakeErrorPolicy
	// MaxNewPeersPerSecond bounds how fast unknown remotes are admitted into
	// the registry (0 = unlimited).
	MaxNewPeersPerSecond int

	UpstreamRTPListenAddr  string
	UpstreamRTCPListenAddr string
	RTCPReportInterval     time.Duration
	RTCPCNAME              string

	AuthMode  AuthMode
	APIKey    string
	JWTSecret string

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	iceConfigErr error
}

// ICEConfigError returns the error from parsing the ICE server settings, if
// any. An invalid ICE configuration does not stop the process; it keeps the
// server from reporting ready.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}

	mediaUDPListenAddr := envOrDefault(lookup, envVarMediaUDPListenAddr, DefaultMediaUDPListen)
	mediaPublicIPsStr := envOrDefault(lookup, envVarMediaPublicIPs, "")
	peerIdleTimeout, err := envDurationOrDefault(lookup, envVarPeerIdleTimeout, DefaultPeerIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	peerSweepInterval, err := envDurationOrDefault(lookup, envVarPeerSweepInterval, DefaultPeerSweepInterval)
	if err != nil {
		return Config{}, err
	}
	maxDatagramBytes, err := envIntOrDefault(lookup, envVarMaxDatagramBytes, DefaultMaxDatagramBytes)
	if err != nil {
		return Config{}, err
	}
	dtlsHandshakeTimeout, err := envDurationOrDefault(lookup, envVarDTLSHandshakeTimeout, DefaultDTLSHandshakeTimeout)
	if err != nil {
		return Config{}, err
	}
	dtlsErrorPolicyStr := envOrDefault(lookup, envVarDTLSErrorPolicy, string(DefaultDTLSErrorPolicy))
	maxNewPeersPerSecond, err := envIntOrDefault(lookup, envVarMaxNewPeersPerSecond, 0)
	if err != nil {
		return Config{}, err
	}

	upstreamRTPListenAddr := envOrDefault(lookup, envVarUpstreamRTPListenAddr, DefaultUpstreamRTPListenAddr)
	upstreamRTCPListenAddr := envOrDefault(lookup, envVarUpstreamRTCPListenAddr, DefaultUpstreamRTCPListenAddr)
	rtcpReportInterval, err := envDurationOrDefault(lookup, envVarRTCPReportInterval, DefaultRTCPReportInterval)
	if err != nil {
		return Config{}, err
	}
	rtcpCNAME := envOrDefault(lookup, envVarRTCPCNAME, defaultCNAME())

	authModeDefault := envOrDefault(lookup, envVarAuthMode, string(DefaultAuthMode))
	apiKey := envOrDefault(lookup, envVarAPIKey, "")
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")

	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-camera-webrtc-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr            string
		logFormatStr       string
		logLevelStr        string
		dtlsErrorPolicyArg = dtlsErrorPolicyStr
		authModeStr        string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (AERO_ICE_SERVERS_JSON)")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs (AERO_STUN_URLS)")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs (AERO_TURN_URLS)")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (AERO_TURN_USERNAME)")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (AERO_TURN_CREDENTIAL)")

	fs.StringVar(&mediaUDPListenAddr, "media-udp-listen-addr", mediaUDPListenAddr, "UDP address of the shared media socket (env "+envVarMediaUDPListenAddr+")")
	fs.StringVar(&mediaPublicIPsStr, "media-public-ips", mediaPublicIPsStr, "Comma-separated IPs to advertise as host candidates (env "+envVarMediaPublicIPs+")")
	fs.DurationVar(&peerIdleTimeout, "peer-idle-timeout", peerIdleTimeout, "Evict peers silent for longer than this (env "+envVarPeerIdleTimeout+")")
	fs.DurationVar(&peerSweepInterval, "peer-sweep-interval", peerSweepInterval, "How often idle peers are swept (env "+envVarPeerSweepInterval+")")
	fs.IntVar(&maxDatagramBytes, "max-datagram-bytes", maxDatagramBytes, "Largest accepted UDP datagram in bytes (env "+envVarMaxDatagramBytes+")")
	fs.DurationVar(&dtlsHandshakeTimeout, "dtls-handshake-timeout", dtlsHandshakeTimeout, "Per-peer DTLS handshake deadline (env "+envVarDTLSHandshakeTimeout+")")
	fs.StringVar(&dtlsErrorPolicyArg, "dtls-error-policy", dtlsErrorPolicyArg, "On handshake failure: evict or log (env "+envVarDTLSErrorPolicy+")")
	fs.IntVar(&maxNewPeersPerSecond, "max-new-peers-per-second", maxNewPeersPerSecond, "New remote endpoints admitted per second (0 = unlimited; env "+envVarMaxNewPeersPerSecond+")")

	fs.StringVar(&upstreamRTPListenAddr, "upstream-rtp-listen-addr", upstreamRTPListenAddr, "UDP address receiving the camera RTP feed (env "+envVarUpstreamRTPListenAddr+")")
	fs.StringVar(&upstreamRTCPListenAddr, "upstream-rtcp-listen-addr", upstreamRTCPListenAddr, "UDP address receiving the camera RTCP feed (empty = disabled; env "+envVarUpstreamRTCPListenAddr+")")
	fs.DurationVar(&rtcpReportInterval, "rtcp-report-interval", rtcpReportInterval, "Interval between receiver reports to the camera (env "+envVarRTCPReportInterval+")")
	fs.StringVar(&rtcpCNAME, "rtcp-cname", rtcpCNAME, "CNAME carried in receiver reports (env "+envVarRTCPCNAME+")")

	fs.StringVar(&authModeStr, "auth-mode", authModeDefault, "Signaling auth mode: none, api_key, or jwt (env "+envVarAuthMode+")")
	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling WS message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling WS messages per second (env "+envVarMaxSignalingMessagesPerSecond+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	// The mode flag picks the logging defaults unless they were configured
	// explicitly.
	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(modeStr)
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(modeStr)
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	dtlsErrorPolicy, err := parseHandshakeErrorPolicy(dtlsErrorPolicyArg)
	if err != nil {
		return Config{}, err
	}
	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envVarAllowedOrigins, err)
	}

	var mediaPublicIPs []netip.Addr
	if strings.TrimSpace(mediaPublicIPsStr) != "" {
		mediaPublicIPs, err = parseIPList(mediaPublicIPsStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMediaPublicIPs, mediaPublicIPsStr, err)
		}
	}

	if _, _, err := net.SplitHostPort(listenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid %s %q: %w", envVarListenAddr, listenAddr, err)
	}
	if _, err := netip.ParseAddrPort(mediaUDPListenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMediaUDPListenAddr, mediaUDPListenAddr, err)
	}
	if _, err := netip.ParseAddrPort(upstreamRTPListenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid %s %q: %w", envVarUpstreamRTPListenAddr, upstreamRTPListenAddr, err)
	}
	if strings.TrimSpace(upstreamRTCPListenAddr) != "" {
		if _, err := netip.ParseAddrPort(upstreamRTCPListenAddr); err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarUpstreamRTCPListenAddr, upstreamRTCPListenAddr, err)
		}
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if peerIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--peer-idle-timeout must be > 0", envVarPeerIdleTimeout)
	}
	if peerSweepInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--peer-sweep-interval must be > 0", envVarPeerSweepInterval)
	}
	if maxDatagramBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-datagram-bytes must be > 0", envVarMaxDatagramBytes)
	}
	if dtlsHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--dtls-handshake-timeout must be > 0", envVarDTLSHandshakeTimeout)
	}
	if maxNewPeersPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-new-peers-per-second must be >= 0 (0 = unlimited)", envVarMaxNewPeersPerSecond)
	}
	if rtcpReportInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--rtcp-report-interval must be > 0", envVarRTCPReportInterval)
	}
	if strings.TrimSpace(rtcpCNAME) == "" || len(rtcpCNAME) > 255 {
		return Config{}, fmt.Errorf("%s/--rtcp-cname must be 1-255 bytes", envVarRTCPCNAME)
	}
	if authMode == AuthModeAPIKey && strings.TrimSpace(apiKey) == "" {
		return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarAPIKey, envVarAuthMode, AuthModeAPIKey)
	}
	if authMode == AuthModeJWT && strings.TrimSpace(jwtSecret) == "" {
		return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarJWTSecret, envVarAuthMode, AuthModeJWT)
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  allowedOrigins,

		MediaUDPListenAddr:   mediaUDPListenAddr,
		MediaPublicIPs:       mediaPublicIPs,
		PeerIdleTimeout:      peerIdleTimeout,
		PeerSweepInterval:    peerSweepInterval,
		MaxDatagramBytes:     maxDatagramBytes,
		DTLSHandshakeTimeout: dtlsHandshakeTimeout,
		DTLSErrorPolicy:      dtlsErrorPolicy,
		MaxNewPeersPerSecond: maxNewPeersPerSecond,

		UpstreamRTPListenAddr:  upstreamRTPListenAddr,
		UpstreamRTCPListenAddr: strings.TrimSpace(upstreamRTCPListenAddr),
		RTCPReportInterval:     rtcpReportInterval,
		RTCPCNAME:              rtcpCNAME,

		AuthMode:  authMode,
		APIKey:    apiKey,
		JWTSecret: jwtSecret,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultCNAME() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "aero-camera-webrtc-relay"
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeAPIKey):
		return AuthModeAPIKey, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s, %s, or %s)", envVarAuthMode, raw, AuthModeNone, AuthModeAPIKey, AuthModeJWT)
	}
}

func parseHandshakeErrorPolicy(raw string) (HandshakeErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(HandshakeErrorPolicyEvict):
		return HandshakeErrorPolicyEvict, nil
	case string(HandshakeErrorPolicyLog):
		return HandshakeErrorPolicyLog, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envVarDTLSErrorPolicy, raw, HandshakeErrorPolicyEvict, HandshakeErrorPolicyLog)
	}
}

// parseAllowedOrigins accepts "*" or full origins like https://example.com.
func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalized, _, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}

func parseIPList(s string) ([]netip.Addr, error) {
	var out []netip.Addr
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ip, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid IP %q", raw)
		}
		if ip.IsUnspecified() {
			return nil, fmt.Errorf("unspecified IP %q cannot be advertised", raw)
		}
		out = append(out, ip.Unmap())
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("must include at least one IP")
	}
	return out, nil
}
