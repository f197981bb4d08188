// Package segmentation parses traffic-shaping rule text and decides, for a
// given request, whether it should go direct, over a chained upstream, or be
// blocked outright — and with what chunking policy.
package segmentation

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"github.com/nbrennan/segproxy/internal/domain"
)

// compiledRule pairs a parsed rule with its precompiled glob, so repeated
// Decide calls don't recompile patterns.
type compiledRule struct {
	rule domain.SegmentationRule
	glob glob.Glob
}

// Engine evaluates an ordered rule list against request contexts. It is
// immutable after construction and safe for concurrent use.
type Engine struct {
	rules         []compiledRule
	defaultPolicy domain.SegmentationPolicy
}

// NewEngine compiles rules' host globs once up front. defaultPolicy is
// returned (with ActionDirect) when no rule matches.
func NewEngine(rules []domain.SegmentationRule, defaultPolicy domain.SegmentationPolicy) (*Engine, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		g, err := glob.Compile(strings.ToLower(r.HostGlob))
		if err != nil {
			return nil, fmt.Errorf("compiling host glob %q: %w", r.HostGlob, err)
		}
		compiled = append(compiled, compiledRule{rule: r, glob: g})
	}
	return &Engine{rules: compiled, defaultPolicy: defaultPolicy.Normalise()}, nil
}

// Decide finds the highest-scoring matching rule for ctx and returns its
// decision; if nothing matches, the engine's default policy applies with
// ActionDirect, score -1.
func (e *Engine) Decide(ctx domain.RequestContext) domain.SegmentationDecision {
	var best *compiledRule
	bestScore := -1

	for i := range e.rules {
		cr := &e.rules[i]
		if !matches(cr, ctx) {
			continue
		}
		score := scoreOf(cr.rule)

		if best == nil || score > bestScore {
			best, bestScore = cr, score
			continue
		}
		if score == bestScore {
			// Tie-break: a block action beats a non-block action at equal
			// score; otherwise the first rule (declaration order) wins.
			if cr.rule.Action == domain.ActionBlock && best.rule.Action != domain.ActionBlock {
				best, bestScore = cr, score
			}
		}
	}

	if best == nil {
		return domain.SegmentationDecision{
			Action:  domain.ActionDirect,
			Policy:  e.defaultPolicy,
			Score:   -1,
			Explain: "no rule matched; using default policy",
		}
	}

	return domain.SegmentationDecision{
		Action:      best.rule.Action,
		Policy:      best.rule.Policy,
		Upstream:    best.rule.Upstream,
		MatchedRule: &best.rule,
		Reason:      best.rule.Reason,
		Score:       bestScore,
		Explain:     explain(best.rule, ctx, bestScore),
	}
}

func matches(cr *compiledRule, ctx domain.RequestContext) bool {
	if !cr.glob.Match(strings.ToLower(ctx.Host)) {
		return false
	}
	if cr.rule.Scheme != "" && cr.rule.Scheme != ctx.Scheme {
		return false
	}
	if cr.rule.Method != "" && cr.rule.Method != strings.ToUpper(ctx.Method) {
		return false
	}
	if cr.rule.PathPrefix != "" && !strings.HasPrefix(ctx.Path, cr.rule.PathPrefix) {
		return false
	}
	return true
}

func scoreOf(rule domain.SegmentationRule) int {
	score := 0
	switch {
	case rule.HostGlob != "" && rule.HostGlob != "*":
		score += 1000
		if !strings.ContainsAny(rule.HostGlob, "*?") {
			score += 500
		} else if strings.HasPrefix(rule.HostGlob, "*.") {
			score += 200
		}
	}
	if rule.Scheme != "" {
		score += 100
	}
	if rule.Method != "" {
		score += 100
	}
	if rule.PathPrefix != "" {
		score += len(rule.PathPrefix)
	}
	return score
}

func explain(rule domain.SegmentationRule, ctx domain.RequestContext, score int) string {
	return fmt.Sprintf(
		"rule(host=%s scheme=%s method=%s path_prefix=%s) ctx(method=%s scheme=%s host=%s path=%s) score=%d action=%s",
		rule.HostGlob, rule.Scheme, rule.Method, rule.PathPrefix,
		ctx.Method, ctx.Scheme, ctx.Host, ctx.Path, score, rule.Action,
	)
}
