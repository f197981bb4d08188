package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nbrennan/segproxy/internal/domain"
	"github.com/nbrennan/segproxy/internal/segmentation"
)

// fileConfig mirrors the YAML/env shape viper unmarshals into, before it's
// folded into Settings alongside CLI overrides.
type fileConfig struct {
	ListenHost     string `mapstructure:"listen_host"`
	ListenPort     int    `mapstructure:"listen_port"`
	ConnectTimeout int    `mapstructure:"connect_timeout"`
	IdleTimeout    int    `mapstructure:"idle_timeout"`
	MaxConnections int    `mapstructure:"max_connections"`
	LogLevel       string `mapstructure:"log_level"`
	AccessLog      bool   `mapstructure:"access_log"`

	AllowDomains []string `mapstructure:"allow_domains"`
	DenyDomains  []string `mapstructure:"deny_domains"`
	DenyPrivate  bool     `mapstructure:"deny_private"`

	DNSCacheSize int    `mapstructure:"dns_cache_size"`
	DNSServer    string `mapstructure:"dns_server"`
	DNSPort      int    `mapstructure:"dns_port"`
	DNSTransport string `mapstructure:"dns_transport"`

	Segmentation     string   `mapstructure:"segmentation"`
	SegmentChunkSize int      `mapstructure:"segment_chunk_size"`
	SegmentDelayMs   int      `mapstructure:"segment_delay_ms"`
	SegmentRules     []string `mapstructure:"segment_rules"`
	RulesFiles       []string `mapstructure:"rules_files"`
}

// Load reads config.yaml (if present) from "." and "./config", layers
// OLLA_-style environment overrides via the "SEGPROXY" prefix, then applies
// CLI flags (which always win), and finally loads every referenced rules
// file. It does not watch the file for changes: Settings is immutable for
// the process lifetime once loaded.
func Load(flags CLIFlags) (Settings, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("SEGPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Settings{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return Settings{}, fmt.Errorf("decoding config: %w", err)
	}

	s := Default()
	applyFileConfig(&s, fc)
	applyCLIFlags(&s, flags)

	rules, err := loadRules(&s, fc, flags)
	if err != nil {
		return Settings{}, err
	}
	s.Rules = rules

	return s, nil
}

func applyFileConfig(s *Settings, fc fileConfig) {
	if fc.ListenHost != "" {
		s.ListenHost = fc.ListenHost
	}
	if fc.ListenPort != 0 {
		s.ListenPort = fc.ListenPort
	}
	if fc.ConnectTimeout != 0 {
		s.ConnectTimeout = time.Duration(fc.ConnectTimeout) * time.Second
	}
	if fc.IdleTimeout != 0 {
		s.IdleTimeout = time.Duration(fc.IdleTimeout) * time.Second
	}
	if fc.MaxConnections != 0 {
		s.MaxConnections = fc.MaxConnections
	}
	if fc.LogLevel != "" {
		s.LogLevel = fc.LogLevel
	}
	s.AccessLog = fc.AccessLog
	s.AllowDomains = fc.AllowDomains
	s.DenyDomains = fc.DenyDomains
	s.DenyPrivate = fc.DenyPrivate

	if fc.DNSCacheSize != 0 {
		s.DNSCacheSize = fc.DNSCacheSize
	}
	if fc.DNSServer != "" {
		s.DNSServer = fc.DNSServer
	}
	if fc.DNSPort != 0 {
		s.DNSPort = fc.DNSPort
	}
	if fc.DNSTransport != "" {
		s.DNSTransport = fc.DNSTransport
	}

	if fc.Segmentation != "" {
		s.DefaultSegmentationPolicy.Mode = domain.SegmentationMode(fc.Segmentation)
	}
	if fc.SegmentChunkSize != 0 {
		s.DefaultSegmentationPolicy.ChunkSize = fc.SegmentChunkSize
	}
	if fc.SegmentDelayMs != 0 {
		s.DefaultSegmentationPolicy.DelayMs = fc.SegmentDelayMs
	}
	s.DefaultSegmentationPolicy = s.DefaultSegmentationPolicy.Normalise()
}

func applyCLIFlags(s *Settings, f CLIFlags) {
	if f.ListenHost != "" {
		s.ListenHost = f.ListenHost
	}
	if f.ListenPort != 0 {
		s.ListenPort = f.ListenPort
	}
	if f.ConnectTimeout != 0 {
		s.ConnectTimeout = time.Duration(f.ConnectTimeout) * time.Second
	}
	if f.IdleTimeout != 0 {
		s.IdleTimeout = time.Duration(f.IdleTimeout) * time.Second
	}
	if f.MaxConnections != 0 {
		s.MaxConnections = f.MaxConnections
	}
	if f.LogLevel != "" {
		s.LogLevel = f.LogLevel
	}
	if f.AccessLog {
		s.AccessLog = true
	}
	if len(f.AllowDomain) > 0 {
		s.AllowDomains = append(append([]string(nil), s.AllowDomains...), f.AllowDomain...)
	}
	if len(f.DenyDomain) > 0 {
		s.DenyDomains = append(append([]string(nil), s.DenyDomains...), f.DenyDomain...)
	}
	if f.DenyPrivate {
		s.DenyPrivate = true
	}
	if f.AllowPrivate {
		s.DenyPrivate = false
	}

	if f.DNSCacheSize >= 0 {
		s.DNSCacheSize = f.DNSCacheSize
	}
	if f.DNSServer != "" {
		s.DNSServer = f.DNSServer
	}
	if f.DNSPort != 0 {
		s.DNSPort = f.DNSPort
	}
	if f.DNSTransport != "" {
		s.DNSTransport = f.DNSTransport
	}

	if f.Segmentation != "" {
		s.DefaultSegmentationPolicy.Mode = domain.SegmentationMode(f.Segmentation)
	}
	if f.SegmentChunkSize != 0 {
		s.DefaultSegmentationPolicy.ChunkSize = f.SegmentChunkSize
	}
	if f.SegmentDelayMs != 0 {
		s.DefaultSegmentationPolicy.DelayMs = f.SegmentDelayMs
	}
	s.DefaultSegmentationPolicy = s.DefaultSegmentationPolicy.Normalise()
}

// loadRules merges rules from file-config segment_rules/rules_files and
// their CLI equivalents, in that order, file rules first so --segment-rule
// and --rules-file can refine a base file-provided set.
func loadRules(s *Settings, fc fileConfig, f CLIFlags) ([]domain.SegmentationRule, error) {
	var rules []domain.SegmentationRule

	for _, text := range fc.SegmentRules {
		r, err := segmentation.ParseRule(text)
		if err != nil {
			return nil, fmt.Errorf("config segment_rules: %w", err)
		}
		rules = append(rules, r)
	}
	for _, path := range fc.RulesFiles {
		fileRules, err := loadRulesFile(path)
		if err != nil {
			return nil, err
		}
		rules = append(rules, fileRules...)
	}
	for _, text := range f.SegmentRule {
		r, err := segmentation.ParseRule(text)
		if err != nil {
			return nil, fmt.Errorf("--segment-rule: %w", err)
		}
		rules = append(rules, r)
	}
	for _, path := range f.RulesFile {
		fileRules, err := loadRulesFile(path)
		if err != nil {
			return nil, err
		}
		rules = append(rules, fileRules...)
	}

	return rules, nil
}
