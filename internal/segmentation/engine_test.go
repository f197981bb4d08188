package segmentation

import (
	"testing"

	"github.com/nbrennan/segproxy/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_NoRuleMatchesReturnsDefault(t *testing.T) {
	e, err := NewEngine(nil, domain.SegmentationPolicy{Mode: domain.ModeDirect})
	require.NoError(t, err)

	d := e.Decide(domain.RequestContext{Host: "example.com"})
	assert.Equal(t, domain.ActionDirect, d.Action)
	assert.Equal(t, -1, d.Score)
	assert.Contains(t, d.Explain, "no rule matched")
}

func TestEngine_MoreSpecificHostWins(t *testing.T) {
	rules := []domain.SegmentationRule{
		{HostGlob: "*.example.com", Action: domain.ActionDirect},
		{HostGlob: "api.example.com", Action: domain.ActionBlock, Reason: "exact wins"},
	}
	e, err := NewEngine(rules, domain.SegmentationPolicy{})
	require.NoError(t, err)

	d := e.Decide(domain.RequestContext{Host: "api.example.com"})
	assert.Equal(t, domain.ActionBlock, d.Action)
	assert.Equal(t, "exact wins", d.Reason)
}

func TestEngine_SchemeAndMethodMustMatchWhenSet(t *testing.T) {
	rules := []domain.SegmentationRule{
		{HostGlob: "example.com", Scheme: "https", Method: "POST", Action: domain.ActionBlock},
	}
	e, err := NewEngine(rules, domain.SegmentationPolicy{})
	require.NoError(t, err)

	d := e.Decide(domain.RequestContext{Host: "example.com", Scheme: "http", Method: "GET"})
	assert.Equal(t, domain.ActionDirect, d.Action)
	assert.Equal(t, -1, d.Score)

	d = e.Decide(domain.RequestContext{Host: "example.com", Scheme: "https", Method: "POST"})
	assert.Equal(t, domain.ActionBlock, d.Action)
}

func TestEngine_PathPrefixMustMatch(t *testing.T) {
	rules := []domain.SegmentationRule{
		{HostGlob: "example.com", PathPrefix: "/api", Action: domain.ActionUpstream, Upstream: &domain.UpstreamTarget{Host: "u", Port: 1}},
	}
	e, err := NewEngine(rules, domain.SegmentationPolicy{})
	require.NoError(t, err)

	d := e.Decide(domain.RequestContext{Host: "example.com", Path: "/other"})
	assert.Equal(t, domain.ActionDirect, d.Action)

	d = e.Decide(domain.RequestContext{Host: "example.com", Path: "/api/v1"})
	assert.Equal(t, domain.ActionUpstream, d.Action)
}

func TestEngine_TieBreakBlockBeatsNonBlock(t *testing.T) {
	rules := []domain.SegmentationRule{
		{HostGlob: "example.com", Action: domain.ActionDirect},
		{HostGlob: "example.com", Action: domain.ActionBlock},
	}
	e, err := NewEngine(rules, domain.SegmentationPolicy{})
	require.NoError(t, err)

	d := e.Decide(domain.RequestContext{Host: "example.com"})
	assert.Equal(t, domain.ActionBlock, d.Action)
}

func TestEngine_TieBreakFirstRuleWinsWhenNeitherIsBlock(t *testing.T) {
	rules := []domain.SegmentationRule{
		{HostGlob: "example.com", Action: domain.ActionDirect, Reason: "first"},
		{HostGlob: "example.com", Action: domain.ActionUpstream, Upstream: &domain.UpstreamTarget{Host: "u", Port: 1}, Reason: "second"},
	}
	e, err := NewEngine(rules, domain.SegmentationPolicy{})
	require.NoError(t, err)

	d := e.Decide(domain.RequestContext{Host: "example.com"})
	assert.Equal(t, "first", d.Reason)
}

func TestEngine_WildcardGlobMatchesHost(t *testing.T) {
	rules := []domain.SegmentationRule{
		{HostGlob: "*.example.com", Action: domain.ActionBlock},
	}
	e, err := NewEngine(rules, domain.SegmentationPolicy{})
	require.NoError(t, err)

	d := e.Decide(domain.RequestContext{Host: "sub.example.com"})
	assert.Equal(t, domain.ActionBlock, d.Action)

	d = e.Decide(domain.RequestContext{Host: "example.com"})
	assert.Equal(t, domain.ActionDirect, d.Action)
}

func TestEngine_QuestionMarkWildcard(t *testing.T) {
	rules := []domain.SegmentationRule{
		{HostGlob: "host?.example.com", Action: domain.ActionBlock},
	}
	e, err := NewEngine(rules, domain.SegmentationPolicy{})
	require.NoError(t, err)

	d := e.Decide(domain.RequestContext{Host: "host1.example.com"})
	assert.Equal(t, domain.ActionBlock, d.Action)
}
