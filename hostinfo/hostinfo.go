package hostinfo

import (
	"context"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"inet.af/netaddr"
)

const addressesKey = "addresses"

type Config struct {
	// StaticAddress replaces lookup when set.
	StaticAddress   string
	RefreshInterval time.Duration
}

type lookupFunc func(ctx context.Context) ([]string, error)

// Resolver renders the local host addresses as one comma-joined string.
type Resolver struct {
	cfg       Config
	log       logrus.FieldLogger
	cache     *cache.Cache[string, string]
	lookupers []lookupFunc
}

// NewResolver ties the cache janitor to ctx.
func NewResolver(ctx context.Context, cfg Config, log logrus.FieldLogger) *Resolver {
	return newResolver(ctx, cfg, log, hostnameAddresses, interfaceAddresses)
}

func newResolver(ctx context.Context, cfg Config, log logrus.FieldLogger, lookupers ...lookupFunc) *Resolver {
	return &Resolver{
		cfg:       cfg,
		log:       log.WithField("component", "hostinfo"),
		cache:     cache.NewContext[string, string](ctx),
		lookupers: lookupers,
	}
}

func (r *Resolver) Addresses(ctx context.Context) string {
	if r.cfg.StaticAddress != "" {
		return r.cfg.StaticAddress
	}
	if v, ok := r.cache.Get(addressesKey); ok {
		return v
	}

	var joined string
	for _, lookup := range r.lookupers {
		raw, err := lookup(ctx)
		if err != nil {
			r.log.Warnf("looking up local addresses: %v", err)
			continue
		}
		if ips := normalize(raw); len(ips) > 0 {
			joined = strings.Join(ips, ", ")
			break
		}
	}

	var opts []cache.ItemOption
	if r.cfg.RefreshInterval > 0 {
		opts = append(opts, cache.WithExpiration(r.cfg.RefreshInterval))
	}
	r.cache.Set(addressesKey, joined, opts...)
	return joined
}

// normalize drops unparsable and loopback entries, removes duplicates and puts IPv4 first.
func normalize(raw []string) []string {
	ips := lo.FilterMap(raw, func(s string, _ int) (netaddr.IP, bool) {
		ip, err := netaddr.ParseIP(s)
		if err != nil || ip.IsLoopback() || ip.IsUnspecified() {
			return netaddr.IP{}, false
		}
		return ip.Unmap(), true
	})
	ips = lo.Uniq(ips)
	sort.SliceStable(ips, func(i, j int) bool {
		return ips[i].Is4() && !ips[j].Is4()
	})
	return lo.Map(ips, func(ip netaddr.IP, _ int) string {
		return ip.String()
	})
}

func hostnameAddresses(ctx context.Context) ([]string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}
	return net.DefaultResolver.LookupHost(ctx, hostname)
}

func interfaceAddresses(_ context.Context) ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	return lo.Map(addrs, func(a net.Addr, _ int) string {
		if ipnet, ok := a.(*net.IPNet); ok {
			return ipnet.IP.String()
		}
		return a.String()
	}), nil
}
