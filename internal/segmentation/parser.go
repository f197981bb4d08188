package segmentation

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nbrennan/segproxy/internal/domain"
)

// ParseError reports a malformed rule line, with the 1-based line number it
// came from so file-backed parse failures can point at a location.
type ParseError struct {
	Source string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s:%d %s", e.Source, e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ParseRules reads rule lines from r, skipping blank lines and lines whose
// first non-whitespace character is '#'. source is used only to build
// ParseError.Source / SegmentationRule.Source for diagnostics.
func ParseRules(r io.Reader, source string) ([]domain.SegmentationRule, error) {
	scanner := bufio.NewScanner(r)
	var rules []domain.SegmentationRule

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, err := parseLine(line)
		if err != nil {
			return nil, &ParseError{Source: source, Line: lineNo, Reason: err.Error()}
		}
		if source != "" {
			rule.Source = fmt.Sprintf("%s:%d", source, lineNo)
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading rules: %w", err)
	}

	return rules, nil
}

// ParseRule parses a single "<host_glob>=<mode>,<key>=<value>..." line, the
// form used by the repeatable --segment-rule flag.
func ParseRule(text string) (domain.SegmentationRule, error) {
	return parseLine(strings.TrimSpace(text))
}

func parseLine(line string) (domain.SegmentationRule, error) {
	hostGlob, rest, ok := strings.Cut(line, "=")
	if !ok {
		return domain.SegmentationRule{}, fmt.Errorf("missing '=' after host glob")
	}
	hostGlob = strings.TrimSpace(hostGlob)
	if hostGlob == "" {
		return domain.SegmentationRule{}, fmt.Errorf("empty host glob")
	}

	parts := strings.Split(rest, ",")
	mode := strings.TrimSpace(parts[0])

	rule := domain.SegmentationRule{
		HostGlob: hostGlob,
		Action:   domain.ActionDirect,
		Policy: domain.SegmentationPolicy{
			Mode: domain.SegmentationMode(mode),
		},
	}

	for _, kv := range parts[1:] {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return domain.SegmentationRule{}, fmt.Errorf("malformed key=value pair %q", kv)
		}
		key = strings.TrimSpace(strings.ToLower(key))
		value = strings.TrimSpace(value)

		if err := applyField(&rule, key, value); err != nil {
			return domain.SegmentationRule{}, err
		}
	}

	if rule.Action == domain.ActionUpstream && rule.Upstream == nil {
		return domain.SegmentationRule{}, fmt.Errorf("action=upstream requires upstream=host:port")
	}
	if rule.Action == domain.ActionBlock && rule.Upstream != nil {
		return domain.SegmentationRule{}, fmt.Errorf("upstream is not allowed with action=block")
	}

	rule.Policy = rule.Policy.Normalise()
	return rule, nil
}

// FormatRule renders rule as space-separated "key=value" tokens covering
// every field explicitly set on it. It does not reproduce ParseRule's
// comma-separated wire grammar verbatim; the property it guarantees is that
// every explicitly set field of rule appears, in "key=value" form, in the
// output, so format_rule(parse(s)) always contains what s set.
func FormatRule(rule domain.SegmentationRule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s mode=%s", rule.HostGlob, rule.Policy.Mode)

	if rule.Scheme != "" {
		fmt.Fprintf(&b, " scheme=%s", rule.Scheme)
	}
	if rule.Method != "" {
		fmt.Fprintf(&b, " method=%s", rule.Method)
	}
	if rule.PathPrefix != "" {
		fmt.Fprintf(&b, " path_prefix=%s", rule.PathPrefix)
	}
	fmt.Fprintf(&b, " action=%s", rule.Action)
	if rule.Upstream != nil {
		fmt.Fprintf(&b, " upstream=%s:%d", rule.Upstream.Host, rule.Upstream.Port)
	}
	if rule.Reason != "" {
		fmt.Fprintf(&b, " reason=%s", rule.Reason)
	}
	if rule.Policy.Strategy != "" && rule.Policy.Strategy != domain.StrategyNone {
		fmt.Fprintf(&b, " strategy=%s", rule.Policy.Strategy)
	}
	if rule.Policy.ChunkSize != 0 {
		fmt.Fprintf(&b, " chunk=%d", rule.Policy.ChunkSize)
	}
	if rule.Policy.MinChunk != 0 {
		fmt.Fprintf(&b, " min=%d", rule.Policy.MinChunk)
	}
	if rule.Policy.MaxChunk != 0 {
		fmt.Fprintf(&b, " max=%d", rule.Policy.MaxChunk)
	}
	if rule.Policy.DelayMs != 0 {
		fmt.Fprintf(&b, " delay_ms=%d", rule.Policy.DelayMs)
	}
	return b.String()
}

func applyField(rule *domain.SegmentationRule, key, value string) error {
	switch key {
	case "strategy":
		switch value {
		case "none", "fixed", "random":
			rule.Policy.Strategy = domain.SegmentationStrategy(value)
		default:
			return fmt.Errorf("bad strategy %q", value)
		}
	case "chunk":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("bad chunk %q: %w", value, err)
		}
		rule.Policy.ChunkSize = n
	case "min", "chunk_min":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("bad %s %q: %w", key, value, err)
		}
		rule.Policy.MinChunk = n
	case "max", "chunk_max":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("bad %s %q: %w", key, value, err)
		}
		rule.Policy.MaxChunk = n
	case "delay":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("bad delay %q", value)
		}
		rule.Policy.DelayMs = n
	case "action":
		switch value {
		case "direct", "upstream", "block":
			rule.Action = domain.RuleAction(value)
		default:
			return fmt.Errorf("bad action %q", value)
		}
	case "upstream":
		host, portStr, ok := strings.Cut(value, ":")
		if !ok {
			return fmt.Errorf("bad upstream %q, want host:port", value)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("bad upstream port in %q", value)
		}
		rule.Upstream = &domain.UpstreamTarget{Host: host, Port: port}
	case "reason":
		rule.Reason = value
	case "scheme":
		switch value {
		case "http", "https":
			rule.Scheme = value
		default:
			return fmt.Errorf("bad scheme %q", value)
		}
	case "method":
		rule.Method = strings.ToUpper(value)
	case "path_prefix":
		if !strings.HasPrefix(value, "/") {
			value = "/" + value
		}
		rule.PathPrefix = value
	default:
		return fmt.Errorf("unrecognised rule key %q", key)
	}
	return nil
}
