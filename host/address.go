// Package host owns the in-memory topology model: addresses, hosts, the
// authoritative host map, copy-on-write host snapshots shared with query
// plans, and the registry that mutates them on the control-connection
// thread.
package host

import (
	"context"
	"net"
	"strconv"
)

// Address identifies a node's connection endpoint, per spec.md §3.1.
type Address struct {
	Host string
	Port uint16
	// SNIServerName is set for cloud-style deployments that multiplex many
	// logical nodes behind one TLS-terminating proxy address.
	SNIServerName string
}

// IsValid reports whether Host is non-empty and Port is non-zero.
func (a Address) IsValid() bool {
	return a.Host != "" && a.Port != 0
}

// String renders the canonical "host:port" form.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// IsAnyLocal reports whether the address is the unspecified address
// (0.0.0.0 or ::). The control connection never keys a host by it: the
// system.local row uses the address it actually dialed, and a peer whose
// rpc_address is unspecified uses its peer column instead.
func (a Address) IsAnyLocal() bool {
	ip := net.ParseIP(a.Host)
	return ip != nil && ip.IsUnspecified()
}

// ResolveDNS resolves one contact point (a literal IP, "host:port" pair,
// or bare hostname) against port when the contact point doesn't carry its
// own. This is the default transport.MetadataResolverFactory's leaf
// lookup (spec.md §3.1 "cluster_metadata_resolver_factory... default:
// DNS-and-port"); callers wanting SNI/cloud-proxy behavior supply their
// own MetadataResolverFactory instead of calling this.
func ResolveDNS(ctx context.Context, contactPoint string, port uint16) ([]Address, error) {
	h, p := contactPoint, port
	if host, portStr, err := net.SplitHostPort(contactPoint); err == nil {
		h = host
		if n, err := strconv.Atoi(portStr); err == nil {
			p = uint16(n)
		}
	}
	if ip := net.ParseIP(h); ip != nil {
		return []Address{{Host: h, Port: p}}, nil
	}
	ips, err := net.DefaultResolver.LookupHost(ctx, h)
	if err != nil {
		return nil, err
	}
	addrs := make([]Address, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, Address{Host: ip, Port: p})
	}
	return addrs, nil
}
