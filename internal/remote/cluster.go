package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// Cluster resolves the replicas of the cluster config service.
type Cluster interface {
	// Replicas returns base URLs such as "http://10.0.0.1:9000". An empty
	// list means the service is not deployed.
	Replicas(ctx context.Context) ([]string, error)
}

// StaticCluster is a fixed replica list.
type StaticCluster []string

// Replicas returns the configured replicas, normalized to URLs.
func (c StaticCluster) Replicas(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(c))
	for _, r := range c {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, normalizeReplica(r))
		}
	}
	return out, nil
}

// DNSCluster resolves replicas from the addresses behind a host name.
type DNSCluster struct {
	Host     string
	Port     int
	Resolver *net.Resolver
}

// NewDNSCluster returns a cluster resolved through the default resolver.
func NewDNSCluster(host string, port int) *DNSCluster {
	return &DNSCluster{Host: host, Port: port, Resolver: net.DefaultResolver}
}

// Replicas looks the host up. A host that does not resolve yields no
// replicas rather than an error.
func (c *DNSCluster) Replicas(ctx context.Context) ([]string, error) {
	resolver := c.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupHost(ctx, c.Host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve %s: %w", c.Host, err)
	}
	sort.Strings(addrs)
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, "http://"+net.JoinHostPort(a, strconv.Itoa(c.Port)))
	}
	return out, nil
}

func (c *DNSCluster) String() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func normalizeReplica(r string) string {
	if !strings.Contains(r, "://") {
		r = "http://" + r
	}
	return strings.TrimRight(r, "/")
}
