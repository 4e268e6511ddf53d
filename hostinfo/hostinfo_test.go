package hostinfo

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestResolver(t *testing.T) {
	ctx := context.Background()
	log := logrus.New()

	t.Run("joins normalized addresses", func(t *testing.T) {
		r := require.New(t)
		lookup := &mockLookup{addrs: []string{"fe80::1", "127.0.0.1", "10.0.0.5", "::ffff:192.168.1.2", "10.0.0.5", "bogus"}}
		res := newResolver(ctx, Config{}, log, lookup.lookup)

		r.Equal("10.0.0.5, 192.168.1.2, fe80::1", res.Addresses(ctx))
	})

	t.Run("falls back when lookup fails or is empty", func(t *testing.T) {
		r := require.New(t)
		failing := &mockLookup{err: errors.New("no such host")}
		loopbackOnly := &mockLookup{addrs: []string{"127.0.0.1", "::1"}}
		ifaces := &mockLookup{addrs: []string{"172.16.0.3"}}
		res := newResolver(ctx, Config{}, log, failing.lookup, loopbackOnly.lookup, ifaces.lookup)

		r.Equal("172.16.0.3", res.Addresses(ctx))
		r.Equal(1, failing.calls)
		r.Equal(1, loopbackOnly.calls)
	})

	t.Run("caches the result", func(t *testing.T) {
		r := require.New(t)
		lookup := &mockLookup{addrs: []string{"10.0.0.5"}}
		res := newResolver(ctx, Config{RefreshInterval: time.Hour}, log, lookup.lookup)

		r.Equal("10.0.0.5", res.Addresses(ctx))
		lookup.addrs = []string{"10.0.0.6"}
		r.Equal("10.0.0.5", res.Addresses(ctx))
		r.Equal(1, lookup.calls)
	})

	t.Run("refreshes after interval", func(t *testing.T) {
		r := require.New(t)
		lookup := &mockLookup{addrs: []string{"10.0.0.5"}}
		res := newResolver(ctx, Config{RefreshInterval: time.Millisecond}, log, lookup.lookup)

		r.Equal("10.0.0.5", res.Addresses(ctx))
		lookup.addrs = []string{"10.0.0.6"}
		time.Sleep(5 * time.Millisecond)
		r.Equal("10.0.0.6", res.Addresses(ctx))
	})

	t.Run("static address skips lookup", func(t *testing.T) {
		r := require.New(t)
		lookup := &mockLookup{addrs: []string{"10.0.0.5"}}
		res := newResolver(ctx, Config{StaticAddress: "agent-1"}, log, lookup.lookup)

		r.Equal("agent-1", res.Addresses(ctx))
		r.Equal(0, lookup.calls)
	})
}

func TestResolverStopsWithContext(t *testing.T) {
	r := require.New(t)
	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	res := newResolver(ctx, Config{RefreshInterval: time.Hour}, logrus.New(), (&mockLookup{addrs: []string{"10.0.0.5"}}).lookup)
	r.Equal("10.0.0.5", res.Addresses(ctx))

	cancel()
	r.Eventually(func() bool { return runtime.NumGoroutine() <= before }, 5*time.Second, 10*time.Millisecond)
}

type mockLookup struct {
	addrs []string
	err   error
	calls int
}

func (m *mockLookup) lookup(_ context.Context) ([]string, error) {
	m.calls++
	return m.addrs, m.err
}
