package dns

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	domains   []string
	timestamp time.Time
}

// CachedDNSResolver does reverse lookups for record source IPs and caches
// the answers so the dashboard does not hammer the resolver, report pages
// tend to repeat the same handful of IPs.
type CachedDNSResolver struct {
	ctx          context.Context
	timeout      time.Duration
	cacheTimeout time.Duration
	resolver     *net.Resolver
	mutex        sync.RWMutex
	dnsCache     map[string]cacheEntry
	logger       *slog.Logger
}

func NewCachedDNSResolver(ctx context.Context, server string, connectTimeout, timeout, cacheTimeout time.Duration, logger *slog.Logger) *CachedDNSResolver {
	resolver := net.DefaultResolver
	if server != "" {
		resolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{
					Timeout: connectTimeout,
				}
				return d.DialContext(ctx, network, server)
			},
		}
	}
	return &CachedDNSResolver{
		ctx:          ctx,
		timeout:      timeout,
		cacheTimeout: cacheTimeout,
		resolver:     resolver,
		dnsCache:     make(map[string]cacheEntry),
		logger:       logger,
	}
}

// CachedDNSLookup resolves the PTR names for an IP, returning the cached
// answer when present. Failed lookups are cached as empty so the same
// broken IP is not retried on every page load.
func (r *CachedDNSResolver) CachedDNSLookup(ip string) ([]string, error) {
	r.logger.Debug("resolving", "ip", ip)
	val := r.getCacheEntry(ip)
	if val != nil {
		return val, nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	domains, err := r.resolver.LookupAddr(ctx, ip)
	if err != nil {
		r.updateCache(ip, []string{})
		return nil, err
	}

	for i := range domains {
		domains[i] = strings.TrimSuffix(domains[i], ".")
	}
	r.updateCache(ip, domains)
	return domains, nil
}

func (r *CachedDNSResolver) updateCache(ip string, domains []string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.dnsCache[ip] = cacheEntry{
		domains:   domains,
		timestamp: time.Now(),
	}
}

func (r *CachedDNSResolver) getCacheEntry(ip string) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if val, ok := r.dnsCache[ip]; ok {
		if time.Now().Add(-1 * r.cacheTimeout).After(val.timestamp) {
			r.logger.Debug("deleting stale DNS entry", "ip", ip, "stored", val.timestamp)
			delete(r.dnsCache, ip)
			return nil
		}
		return val.domains
	}
	return nil
}
