package lbpolicy

import "github.com/scylladb/cqlcluster/host"

// ChainConfig collects the optional layers spec.md §4.F.7 composes on top
// of a base policy. Every field is optional; a zero-value ChainConfig
// yields the base policy unchanged.
type ChainConfig struct {
	BlacklistHosts   []host.Address
	WhitelistHosts   []host.Address
	BlacklistDCs     []string
	WhitelistDCs     []string

	TokenAware        bool
	TokenAwareShuffle bool

	LatencyAware       bool
	LatencyAwareConfig LatencyAwareConfig

	HostTargeting bool
}

// BuildChain composes base with the optional layers in cfg, in the fixed
// bottom-up order spec.md §4.F.7 mandates: blacklist, whitelist,
// blacklist-DC, whitelist-DC, token-aware, latency-aware, host-targeting.
// Each layer wraps the previous one, so the outermost Policy returned is
// the one the session actually calls into.
func BuildChain(base Builder, cfg ChainConfig) Builder {
	b := base

	if len(cfg.BlacklistHosts) > 0 {
		b = NewBlacklist(b, cfg.BlacklistHosts)
	}
	if len(cfg.WhitelistHosts) > 0 {
		b = NewWhitelist(b, cfg.WhitelistHosts)
	}
	if len(cfg.BlacklistDCs) > 0 {
		b = NewBlacklistDC(b, cfg.BlacklistDCs)
	}
	if len(cfg.WhitelistDCs) > 0 {
		b = NewWhitelistDC(b, cfg.WhitelistDCs)
	}
	if cfg.TokenAware {
		b = NewTokenAware(b, cfg.TokenAwareShuffle)
	}
	if cfg.LatencyAware {
		b = NewLatencyAware(b, cfg.LatencyAwareConfig)
	}
	if cfg.HostTargeting {
		b = NewHostTargeting(b)
	}

	return b
}
