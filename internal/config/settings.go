// Package config builds the immutable, process-scoped Settings the rest of
// the proxy runs against: a YAML/env layer via viper, long-form CLI flags
// that override it, and rules-file loading for segmentation rules.
package config

import (
	"time"

	"github.com/nbrennan/segproxy/internal/domain"
)

const (
	DefaultListenHost     = "0.0.0.0"
	DefaultListenPort     = 8080
	DefaultConnectTimeout = 10 * time.Second
	DefaultIdleTimeout    = 90 * time.Second
	DefaultMaxConnections = 512
	DefaultDNSTransport   = "udp"
	DefaultDNSPort        = 53
)

// Settings is the fully resolved, immutable configuration the proxy runs
// with for its entire process lifetime.
type Settings struct {
	ListenHost string
	ListenPort int

	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	MaxConnections int

	AllowDomains []string
	DenyDomains  []string
	DenyPrivate  bool

	DNSCacheSize int
	DNSServer    string // host or host:port; empty means use the system resolver
	DNSPort      int
	DNSTransport string // "udp" or "tcp"

	DefaultSegmentationPolicy domain.SegmentationPolicy
	Rules                     []domain.SegmentationRule

	AccessLog bool
	LogLevel  string
}

// Default returns a Settings with every field at its documented default.
func Default() Settings {
	return Settings{
		ListenHost:     DefaultListenHost,
		ListenPort:     DefaultListenPort,
		ConnectTimeout: DefaultConnectTimeout,
		IdleTimeout:    DefaultIdleTimeout,
		MaxConnections: DefaultMaxConnections,
		DNSTransport:   DefaultDNSTransport,
		DNSPort:        DefaultDNSPort,
		DefaultSegmentationPolicy: domain.SegmentationPolicy{
			Mode: domain.ModeDirect,
		},
		LogLevel: "info",
	}
}
