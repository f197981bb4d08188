package policy

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func noLookup(context.Context, string) ([]net.IP, error) { return nil, nil }

func TestCheck_ExactDenyMatch(t *testing.T) {
	d := Check(context.Background(), "example.com", Settings{DenyDomains: []string{"example.com"}}, noLookup)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "deny rule")
}

func TestCheck_SuffixDenyMatchesSubdomain(t *testing.T) {
	d := Check(context.Background(), "api.example.com", Settings{DenyDomains: []string{".example.com"}}, noLookup)
	assert.False(t, d.Allowed)
}

func TestCheck_SuffixDenyMatchesBareParent(t *testing.T) {
	d := Check(context.Background(), "example.com", Settings{DenyDomains: []string{".example.com"}}, noLookup)
	assert.False(t, d.Allowed)
}

func TestCheck_ExactDenyDoesNotMatchSubdomain(t *testing.T) {
	d := Check(context.Background(), "api.example.com", Settings{DenyDomains: []string{"example.com"}}, noLookup)
	assert.True(t, d.Allowed)
}

func TestCheck_AllowListRestrictsToMembers(t *testing.T) {
	s := Settings{AllowDomains: []string{"good.com"}}

	d := Check(context.Background(), "good.com", s, noLookup)
	assert.True(t, d.Allowed)

	d = Check(context.Background(), "bad.com", s, noLookup)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Not in allow list", d.Reason)
}

func TestCheck_NoListsAllowsByDefault(t *testing.T) {
	d := Check(context.Background(), "anything.example", Settings{}, noLookup)
	assert.True(t, d.Allowed)
}

func TestCheck_HostTrimmedAndLowercased(t *testing.T) {
	d := Check(context.Background(), "EXAMPLE.COM.", Settings{DenyDomains: []string{"example.com"}}, noLookup)
	assert.False(t, d.Allowed)
}

func TestCheck_DenyPrivateBlocksLiteralIP(t *testing.T) {
	d := Check(context.Background(), "127.0.0.1", Settings{DenyPrivate: true}, noLookup)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "private/loopback")
}

func TestCheck_DenyPrivateAllowsPublicIP(t *testing.T) {
	d := Check(context.Background(), "93.184.216.34", Settings{DenyPrivate: true}, noLookup)
	assert.True(t, d.Allowed)
}

func TestCheck_DenyPrivateLookupFailureDoesNotDeny(t *testing.T) {
	failLookup := func(context.Context, string) ([]net.IP, error) {
		return nil, assertDNSErr{}
	}
	d := Check(context.Background(), "example.com", Settings{DenyPrivate: true}, failLookup)
	assert.True(t, d.Allowed)
}

func TestCheck_DenyPrivateBlocksResolvedPrivateAddress(t *testing.T) {
	lookup := func(context.Context, string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("10.1.2.3")}, nil
	}
	d := Check(context.Background(), "internal.example", Settings{DenyPrivate: true}, lookup)
	assert.False(t, d.Allowed)
}

type assertDNSErr struct{}

func (assertDNSErr) Error() string { return "dns failure" }
