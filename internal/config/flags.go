package config

import (
	"flag"
	"fmt"
	"strings"
)

// stringSliceFlag collects repeatable flags (each occurrence appends) into a
// slice, since the stdlib flag package has no built-in repeatable flag type.
type stringSliceFlag struct {
	values *[]string
}

func (f stringSliceFlag) String() string {
	if f.values == nil {
		return ""
	}
	return strings.Join(*f.values, ",")
}

func (f stringSliceFlag) Set(value string) error {
	*f.values = append(*f.values, value)
	return nil
}

// CLIFlags holds the raw parsed flag values before they're applied as
// overrides on top of the file/env-derived Settings. Zero values mean "not
// set" for most fields; boolFlag fields record whether they were passed.
type CLIFlags struct {
	ListenHost     string
	ListenPort     int
	ConnectTimeout int // seconds
	IdleTimeout    int // seconds
	MaxConnections int
	LogLevel       string
	AccessLog      bool

	AllowDomain  []string
	DenyDomain   []string
	DenyPrivate  bool
	AllowPrivate bool

	DNSCacheSize int
	DNSServer    string
	DNSPort      int
	DNSTransport string

	Segmentation     string
	SegmentChunkSize int
	SegmentDelayMs   int
	SegmentRule      []string
	RulesFile        []string
	ValidateRules    bool
}

// ParseFlags defines and parses the long-form CLI surface against fs (pass
// flag.CommandLine in production, a fresh flag.FlagSet in tests).
func ParseFlags(fs *flag.FlagSet, args []string) (CLIFlags, error) {
	var f CLIFlags

	fs.StringVar(&f.ListenHost, "listen-host", "", "Address to bind the proxy listener to")
	fs.IntVar(&f.ListenPort, "listen-port", 0, "Port to bind the proxy listener to")
	fs.IntVar(&f.ConnectTimeout, "connect-timeout", 0, "Upstream connect timeout in seconds")
	fs.IntVar(&f.IdleTimeout, "idle-timeout", 0, "Connection idle timeout in seconds")
	fs.IntVar(&f.MaxConnections, "max-connections", 0, "Maximum concurrent connections")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&f.AccessLog, "access-log", false, "Enable per-request access logging")

	fs.Var(stringSliceFlag{&f.AllowDomain}, "allow-domain", "Allowed host domain pattern (repeatable)")
	fs.Var(stringSliceFlag{&f.DenyDomain}, "deny-domain", "Denied host domain pattern (repeatable)")
	fs.BoolVar(&f.DenyPrivate, "deny-private", false, "Block requests to private/loopback/reserved addresses")
	fs.BoolVar(&f.AllowPrivate, "allow-private", false, "Explicitly allow private/loopback/reserved addresses")

	fs.IntVar(&f.DNSCacheSize, "dns-cache-size", -1, "DNS resolver cache capacity (0 disables caching)")
	fs.StringVar(&f.DNSServer, "dns-server", "", "Custom DNS server host:port; empty uses the system resolver")
	fs.IntVar(&f.DNSPort, "dns-port", 0, "Custom DNS server port (requires --dns-server)")
	fs.StringVar(&f.DNSTransport, "dns-transport", "", "Custom DNS transport: udp or tcp (requires --dns-server)")

	fs.StringVar(&f.Segmentation, "segmentation", "", "Default segmentation mode: direct or segment_upstream")
	fs.IntVar(&f.SegmentChunkSize, "segment-chunk-size", 0, "Default fixed chunk size in bytes")
	fs.IntVar(&f.SegmentDelayMs, "segment-delay-ms", 0, "Default inter-chunk delay in milliseconds")
	fs.Var(stringSliceFlag{&f.SegmentRule}, "segment-rule", "Inline segmentation rule (repeatable)")
	fs.Var(stringSliceFlag{&f.RulesFile}, "rules-file", "Segmentation rules file path (repeatable)")
	fs.BoolVar(&f.ValidateRules, "validate-rules", false, "Parse and print configured rules, then exit 0")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}

	if err := validateDNSOverrides(f); err != nil {
		return CLIFlags{}, err
	}

	return f, nil
}

func validateDNSOverrides(f CLIFlags) error {
	if f.DNSServer == "" {
		if f.DNSPort != 0 || f.DNSTransport != "" {
			return fmt.Errorf("--dns-port and --dns-transport require --dns-server")
		}
		return nil
	}
	if f.DNSPort < 0 || f.DNSPort > 65535 {
		return fmt.Errorf("--dns-port out of range: %d", f.DNSPort)
	}
	if f.DNSTransport != "" && f.DNSTransport != "udp" && f.DNSTransport != "tcp" {
		return fmt.Errorf("--dns-transport must be udp or tcp, got %q", f.DNSTransport)
	}
	if f.DNSCacheSize < -1 {
		return fmt.Errorf("--dns-cache-size out of range: %d", f.DNSCacheSize)
	}
	return nil
}
