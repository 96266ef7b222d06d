package transport

import (
	"context"
	"time"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/lbpolicy"
)

// ProtocolVersion packs the numeric CQL native-protocol version with the
// independent DSE bit (spec.md §3.1): DSE clusters advertise their own
// version line that downgrades within itself before crossing over to the
// highest plain-Cassandra version (spec.md §4.G step 2).
type ProtocolVersion struct {
	Version int
	IsDSE   bool
}

// Downgrade returns the next-lowest version to retry STARTUP with, and
// false once there is nothing left to try (spec.md §4.G step 2: "DSE
// variants downgrade first within DSE, then cross to Cassandra highest").
func (v ProtocolVersion) Downgrade() (ProtocolVersion, bool) {
	if v.IsDSE {
		if v.Version > minDSEProtocolVersion {
			return ProtocolVersion{Version: v.Version - 1, IsDSE: true}, true
		}
		return ProtocolVersion{Version: maxCassandraProtocolVersion, IsDSE: false}, true
	}
	if v.Version > minCassandraProtocolVersion {
		return ProtocolVersion{Version: v.Version - 1}, true
	}
	return ProtocolVersion{}, false
}

const (
	minCassandraProtocolVersion = 3
	maxCassandraProtocolVersion = 4
	minDSEProtocolVersion       = 65
	maxDSEProtocolVersion       = 66
)

// HighestSupportedProtocolVersion is the version STARTUP protocol-version
// negotiation begins at absent an explicit override.
func HighestSupportedProtocolVersion() ProtocolVersion {
	return ProtocolVersion{Version: maxDSEProtocolVersion, IsDSE: true}
}

// ReconnectionPolicy chooses delays for the control connection's
// reconnection loop (spec.md §3.1, §4.G step 7).
type ReconnectionPolicy interface {
	// NextDelay returns the delay before reconnection attempt number
	// attempt (1-based).
	NextDelay(attempt int) time.Duration
}

// ConstantDelay retries at a fixed interval.
type ConstantDelay struct {
	Delay time.Duration
}

func (c ConstantDelay) NextDelay(int) time.Duration { return c.Delay }

// Exponential doubles the delay each attempt, capped at Max.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

func (e Exponential) NextDelay(attempt int) time.Duration {
	d := e.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.Max {
			return e.Max
		}
	}
	if d > e.Max {
		d = e.Max
	}
	return d
}

// AuthProvider supplies SASL/plain credentials for AUTHENTICATE (spec.md
// §4.G step 2).
type AuthProvider interface {
	Credentials() (user, password string)
}

// PlainTextAuthProvider is the common case: a fixed username/password pair.
type PlainTextAuthProvider struct {
	Username string
	Password string
}

func (p PlainTextAuthProvider) Credentials() (string, string) { return p.Username, p.Password }

// VerifyFlag enumerates what an SSLContext validates (spec.md §3.1).
type VerifyFlag int

const (
	VerifyPeerCert VerifyFlag = iota
	VerifyPeerIdentity
)

// SSLContext configures TLS for the control connection and, by extension,
// every data connection the external codec layer opens (spec.md §3.1).
type SSLContext struct {
	VerifyFlags  []VerifyFlag
	TrustedCerts [][]byte // PEM blobs
}

// MetadataResolverFactory turns contact points into resolved addresses and
// an optional inferred local datacenter, the hook cloud-style SNI
// deployments use to multiplex one proxy address into many logical nodes
// (spec.md §3.1 "cluster_metadata_resolver_factory").
type MetadataResolverFactory interface {
	Resolve(ctx context.Context, contactPoints []string) (ResolvedContactPoints, error)
}

// ResolvedContactPoints is a MetadataResolverFactory's output.
type ResolvedContactPoints struct {
	Addresses []host.Address
	LocalDC   string
}

// ClusterSettings is the flat, exported configuration surface (spec.md
// §3.1), styled after the teacher's gocql.ClusterConfig: doc-comment
// density varies field to field the way the teacher's does. Defaults are
// filled in by DefaultClusterSettings; only some fields state theirs.
type ClusterSettings struct {
	// ContactPoints seeds cluster discovery. Each entry is a literal IP, a
	// hostname, or a DNS label to resolve (spec.md §3.1 ContactPointList).
	ContactPoints []string

	// Port used when dialing, unless a contact point embeds its own.
	// Default: 9042.
	Port uint16

	// ProtocolVersion to start STARTUP negotiation at. Zero means "use
	// HighestSupportedProtocolVersion and downgrade as needed."
	ProtocolVersion ProtocolVersion

	ReconnectionPolicy ReconnectionPolicy

	ReconnectTimeout time.Duration
	ConnectTimeout   time.Duration
	ResolveTimeout   time.Duration

	// LoadBalancingPolicy is the base policy builder for the default
	// execution profile.
	LoadBalancingPolicy lbpolicy.Builder
	// LoadBalancingPolicies holds additional named builders for
	// multi-execution-profile sessions (spec.md §3.1).
	LoadBalancingPolicies map[string]lbpolicy.Builder

	AuthProvider AuthProvider
	SSLContext   *SSLContext

	DisableEventsOnStartup    bool
	UseRandomizedContactPoints bool

	MetadataResolverFactory MetadataResolverFactory

	// Dialer opens the external wire-codec connection to a host (spec.md
	// §6.1: the CQL frame encode/decode layer this core treats as an
	// external collaborator, reached only through this interface).
	Dialer Dialer

	// MaxSchemaAgreementWait bounds the poll loop in spec.md §4.G step 6.
	// Default: 60s.
	MaxSchemaAgreementWait time.Duration

	Logger Logger
}

// DefaultClusterSettings returns settings with every default spec.md §3.1
// names filled in, analogous to the teacher's
// scylla.DefaultSessionConfig(keyspace, hosts...).
func DefaultClusterSettings(hosts ...string) ClusterSettings {
	return ClusterSettings{
		ContactPoints:          hosts,
		Port:                   9042,
		ProtocolVersion:        HighestSupportedProtocolVersion(),
		ReconnectionPolicy:     Exponential{Base: 1 * time.Second, Max: 60 * time.Second},
		ReconnectTimeout:       10 * time.Second,
		ConnectTimeout:         5 * time.Second,
		ResolveTimeout:         5 * time.Second,
		MaxSchemaAgreementWait: 60 * time.Second,
		Logger:                 DefaultLogger{},
	}
}
