package sealing

import (
	"fmt"
	"sort"

	"github.com/miekg/dns"
)

// defaultDNSServer is the systemd-resolved stub listener.
const defaultDNSServer = "127.0.0.53:53"

// PoolEndpoint is one key server discovered through service records.
type PoolEndpoint struct {
	Host     string
	Port     uint16
	Priority uint16
}

// PoolResolver discovers key-server pool members through DNS SRV records.
// Deployments register one SRV record per pool member under a well-known
// service domain, e.g. _keyserver._tcp.vault.example.org.
type PoolResolver struct {
	server string
	client *dns.Client
}

// NewPoolResolver creates a resolver that queries the given DNS server.
// An empty server address falls back to the local stub resolver.
func NewPoolResolver(server string) *PoolResolver {
	if server == "" {
		server = defaultDNSServer
	}
	return &PoolResolver{server: server, client: new(dns.Client)}
}

// ResolvePool looks up the SRV records for a service domain and returns the
// endpoints ordered by priority. Records that are not SRV are skipped.
func (r *PoolResolver) ResolvePool(domain string) ([]PoolEndpoint, error) {
	msg := new(dns.Msg)
	msg.Id = dns.Id()
	msg.RecursionDesired = true
	msg.Question = []dns.Question{{
		Name:   dns.Fqdn(domain),
		Qtype:  dns.TypeSRV,
		Qclass: dns.ClassINET,
	}}

	in, _, err := r.client.Exchange(msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup for %s failed: %w", domain, err)
	}

	endpoints := make([]PoolEndpoint, 0, len(in.Answer))
	for _, answer := range in.Answer {
		srv, ok := answer.(*dns.SRV)
		if !ok {
			continue
		}
		endpoints = append(endpoints, PoolEndpoint{
			Host:     srv.Target,
			Port:     srv.Port,
			Priority: srv.Priority,
		})
	}

	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no SRV records for %s", domain)
	}

	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].Priority < endpoints[j].Priority
	})

	return endpoints, nil
}
