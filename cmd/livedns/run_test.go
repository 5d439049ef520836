package main

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Travis-Britz/livedns-ddns"
	"github.com/Travis-Britz/livedns-ddns/internal/config"
)

func TestBuildResolverPrefersFlags(t *testing.T) {
	r, err := buildResolver(config.Resolver{Method: config.MethodDNS}, []string{"203.0.113.8", "2001:db8::8"})
	require.NoError(t, err)

	a, err := r.Resolve(context.Background(), ddns.IPv6)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("2001:db8::8"), a)
}

func TestBuildResolverStatic(t *testing.T) {
	r, err := buildResolver(config.Resolver{Method: config.MethodStatic, Addresses: []string{"198.51.100.1"}}, nil)
	require.NoError(t, err)

	a, err := r.Resolve(context.Background(), ddns.IPv4)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1", a.String())

	_, err = r.Resolve(context.Background(), ddns.IPv6)
	assert.Error(t, err)
}

func TestBuildResolverErrors(t *testing.T) {
	_, err := buildResolver(config.Resolver{Method: "smoke-signal"}, nil)
	assert.Error(t, err)

	_, err = buildResolver(config.Resolver{Method: config.MethodWeb, URLs: []string{"ftp://example.com/"}}, nil)
	assert.Error(t, err)

	_, err = buildResolver(config.Resolver{}, []string{"not-an-ip"})
	assert.Error(t, err)
}

func TestNewReconciler(t *testing.T) {
	cfg, err := config.Parse([]byte(`
[GANDI]
key = "k"
url = "http://127.0.0.1:1/v5/livedns"

[DNS]
domain = "example.com"
record = "home"
ipv6 = false

[RETRY]
max_attempts = 1
`), false)
	require.NoError(t, err)

	r, err := newReconciler(cfg, logr.Discard(), []string{"203.0.113.8"}, false)
	require.NoError(t, err)
	require.NotNil(t, r)
}

func TestPassOK(t *testing.T) {
	ok := ddns.Result{
		IPv4: ddns.Outcome{Family: ddns.IPv4, Action: ddns.Updated},
		IPv6: ddns.Outcome{Family: ddns.IPv6, Action: ddns.Failed, Err: errors.New("no route")},
	}
	assert.True(t, passOK(ok, nil))
	assert.False(t, passOK(ok, ddns.ErrUnauthorized))

	failed := ddns.Result{
		IPv4: ddns.Outcome{Family: ddns.IPv4, Action: ddns.Failed},
		IPv6: ddns.Outcome{Family: ddns.IPv6, Action: ddns.Skipped},
	}
	assert.False(t, passOK(failed, nil))
}
