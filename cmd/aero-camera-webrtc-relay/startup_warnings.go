package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none disables authentication",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxNewPeersPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_NEW_PEERS_PER_SECOND is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_new_peers_unlimited_in_prod",
			"max_new_peers_per_second", cfg.MaxNewPeersPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.DTLSErrorPolicy == config.HandshakeErrorPolicyLog {
		logger.Warn("startup security warning: DTLS_ERROR_POLICY=log keeps peers with failed handshakes registered until they idle out",
			"warning_code", "dtls_error_policy_log",
			"dtls_error_policy", cfg.DTLSErrorPolicy,
			"peer_idle_timeout", cfg.PeerIdleTimeout,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && len(cfg.MediaPublicIPs) == 0 {
		logger.Warn("startup warning: MEDIA_PUBLIC_IPS is unset while --mode=prod; interface addresses will be advertised",
			"warning_code", "media_public_ips_unset_in_prod",
			"media_udp_listen_addr", cfg.MediaUDPListenAddr,
			"mode", cfg.Mode,
		)
	}
}
