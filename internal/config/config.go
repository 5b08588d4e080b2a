// Package config loads the negotiation core's runtime configuration from
// flags and environment variables, the same two-layer approach the
// signaling service's config package uses.
package config

import (
	"flag"
	"os"
	"strings"
)

// Config holds everything the orchestrator needs that isn't part of the
// signalling exchange itself.
type Config struct {
	// BearerToken is the OAuth2 bearer credential; the core never refreshes
	// it (§6).
	BearerToken string

	// ConsoleGeneration selects the wire-protocol variant ("gen-4"/"gen-5").
	ConsoleGeneration string

	// MobilePushHost serves /np/serveraddr and the websocket upgrade.
	MobilePushHost string
	// WebHost serves the sessionManager and cloudAssistedNavigation APIs.
	WebHost string

	// STUNServer is the fallback external-address resolver.
	STUNServer string

	LogLevel string
}

// Load parses flags, then applies environment overrides, matching the
// override order used by the signaling service's config.Load.
func Load() *Config {
	cfg := &Config{
		MobilePushHost: "mobile-push.np.community.playstation.net",
		WebHost:        "web.np.playstation.com",
		STUNServer:     "stun.l.google.com:19302",
		LogLevel:       "info",
	}

	flag.StringVar(&cfg.BearerToken, "token", "", "OAuth2 bearer token")
	flag.StringVar(&cfg.ConsoleGeneration, "console-gen", "gen-5", "console generation selector (gen-4, gen-5)")
	flag.StringVar(&cfg.MobilePushHost, "push-host", cfg.MobilePushHost, "mobile push notification host")
	flag.StringVar(&cfg.WebHost, "web-host", cfg.WebHost, "web API host")
	flag.StringVar(&cfg.STUNServer, "stun-server", cfg.STUNServer, "STUN server for external address discovery")
	flag.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "log level (error, warn, info, debug, verbose)")
	flag.Parse()

	if v := os.Getenv("RP_TOKEN"); v != "" {
		cfg.BearerToken = v
	}
	if v := os.Getenv("RP_CONSOLE_GEN"); v != "" {
		cfg.ConsoleGeneration = v
	}
	if v := os.Getenv("RP_PUSH_HOST"); v != "" {
		cfg.MobilePushHost = v
	}
	if v := os.Getenv("RP_WEB_HOST"); v != "" {
		cfg.WebHost = v
	}
	if v := os.Getenv("RP_STUN_SERVER"); v != "" {
		cfg.STUNServer = v
	}
	if v := os.Getenv("RP_LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}

// ParseList splits a comma-separated list, trimming whitespace and dropping
// empty elements — reused wherever the core accepts a fallback host list.
func ParseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
