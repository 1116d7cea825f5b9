package main

import (
	"log/slog"
	"time"

	"github.com/sketchdeck/peerlink/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone && cfg.Mode == config.ModeProd {
		logger.Warn("startup security warning: PEERLINK_AUTH_MODE=none admits any websocket client while mode=prod",
			"warning_code", "auth_mode_none_in_prod",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if cfg.Discovery && cfg.Mode == config.ModeProd {
		logger.Warn("startup security warning: PEERLINK_DISCOVERY=true lists registered identifiers to any admitted client while mode=prod",
			"warning_code", "discovery_enabled_in_prod",
			"discovery", cfg.Discovery,
			"mode", cfg.Mode,
		)
	}

	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			logger.Warn("startup security warning: PEERLINK_ALLOWED_ORIGINS contains '*' (admits any browser origin)",
				"warning_code", "allowed_origins_wildcard",
				"allowed_origins", cfg.AllowedOrigins,
				"mode", cfg.Mode,
			)
			break
		}
	}

	// Oversized signaling envelopes weaken the per-message allocation cap.
	if cfg.MaxSignalMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNAL_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signal_message_bytes_large",
			"max_signal_message_bytes", cfg.MaxSignalMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_SIGNAL_MESSAGES_PER_SECOND is unset/0 (signaling rate limiting disabled)",
			"warning_code", "signal_rate_limit_disabled",
			"max_signal_messages_per_second", cfg.MaxSignalMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.PeerIdleTimeout > 10*time.Minute {
		logger.Warn("startup security warning: PEER_IDLE_TIMEOUT is very large (stale registrations hold identifiers longer)",
			"warning_code", "peer_idle_timeout_large",
			"peer_idle_timeout", cfg.PeerIdleTimeout,
			"mode", cfg.Mode,
		)
	}
}
