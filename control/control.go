// Package control drives one control connection: protocol negotiation,
// STARTUP/AUTHENTICATE, the system-table bootstrap queries, token-map
// construction, event subscription, schema-agreement waits, and the
// reconnection loop on unexpected close (spec.md §4.G). It is grounded on
// the teacher's transport.Node/transport.Conn bootstrap sequence
// (transport/node.go), generalized from a single-node helper into the
// full control-connection state machine spec.md §4.G describes.
package control

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scylladb/cqlcluster/host"
	"github.com/scylladb/cqlcluster/tokenmap"
	"github.com/scylladb/cqlcluster/transport"
)

// Connection is one established control connection plus everything it
// keeps current: the host registry, the token map, and the event pump.
// It is owned by the session's event loop (spec.md §5 "Scheduling model").
type Connection struct {
	addr     host.Address
	version  transport.ProtocolVersion
	conn     transport.FrameConn
	logger   transport.Logger
	settings transport.ClusterSettings

	registry *host.Registry

	mu      sync.RWMutex
	tokenMap *tokenmap.Map
	localDC  string

	closeOnce sync.Once
	closed    chan struct{}
	events    <-chan transport.Event
}

// Address reports which host this control connection is attached to.
func (c *Connection) Address() host.Address { return c.addr }

// ProtocolVersion reports the negotiated version.
func (c *Connection) ProtocolVersion() transport.ProtocolVersion { return c.version }

// TokenMap returns the most recently built token map, or nil if the
// cluster's partitioner is unsupported (spec.md §4.G step 4).
func (c *Connection) TokenMap() *tokenmap.Map {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenMap
}

// LocalDatacenter reports the datacenter the control connection landed
// in, inferred from the connected host's system.local row.
func (c *Connection) LocalDatacenter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localDC
}

// Bootstrap performs spec.md §4.G steps 1-5: negotiate a connection to
// addr, run the bootstrap queries, build the token map, and subscribe to
// events unless disabled. The returned Connection's event pump is not yet
// running; call DispatchEvents to start consuming events (and, on
// unexpected close, the reconnection loop).
func Bootstrap(ctx context.Context, dialer transport.Dialer, addr host.Address, settings transport.ClusterSettings, registry *host.Registry) (*Connection, error) {
	logger := settings.Logger
	if logger == nil {
		logger = transport.DefaultLogger{}
	}
	logger = transport.PrefixLogger{Prefix: "control " + addr.String(), Next: logger}

	conn, version, err := negotiateAndStartup(ctx, dialer, addr, settings)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		addr:     addr,
		version:  version,
		conn:     conn,
		logger:   logger,
		settings: settings,
		registry: registry,
		closed:   make(chan struct{}),
	}

	if err := c.bootstrapTopology(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if !settings.DisableEventsOnStartup {
		events, err := conn.SubscribeEvents(ctx, true, true, true)
		if err != nil {
			conn.Close()
			return nil, transport.WrapClusterError(transport.UnableToConnect, "subscribing to events", err)
		}
		c.events = events
	}

	return c, nil
}

// negotiateAndStartup implements spec.md §4.G step 2: issue STARTUP,
// classify the response, downgrade and retry on protocol errors, run
// AUTHENTICATE when requested, and surface SSL failures as-is.
func negotiateAndStartup(ctx context.Context, dialer transport.Dialer, addr host.Address, settings transport.ClusterSettings) (transport.FrameConn, transport.ProtocolVersion, error) {
	version := settings.ProtocolVersion
	if version.Version == 0 {
		version = transport.HighestSupportedProtocolVersion()
	}

	for {
		conn, err := dialer.Dial(ctx, addr, version, settings.SSLContext)
		if err != nil {
			if ce, ok := err.(*transport.ClusterError); ok && ce.Kind == transport.SSLError {
				return nil, version, ce
			}
			return nil, version, transport.WrapClusterError(transport.UnableToConnect, "dialing "+addr.String(), err)
		}

		resp, err := conn.SendRequest(ctx, transport.Request{
			Opcode:         transport.OpStartup,
			StartupOptions: map[string]string{"CQL_VERSION": "3.0.0"},
		})
		if err != nil {
			conn.Close()
			return nil, version, transport.WrapClusterError(transport.UnableToConnect, "sending STARTUP", err)
		}

		switch resp.Opcode {
		case transport.OpReady:
			return conn, version, nil

		case transport.OpAuthenticate:
			if err := authenticate(ctx, conn, settings.AuthProvider); err != nil {
				conn.Close()
				return nil, version, err
			}
			return conn, version, nil

		case transport.OpError:
			conn.Close()
			if resp.Err == nil {
				return nil, version, transport.NewClusterError(transport.UnableToConnect, "STARTUP rejected with no error detail")
			}
			switch resp.Err.Kind {
			case transport.SSLError:
				return nil, version, resp.Err
			case transport.InvalidProtocol:
				next, ok := version.Downgrade()
				if !ok {
					return nil, version, transport.NewClusterError(transport.InvalidProtocol, "lowest supported protocol version rejected")
				}
				version = next
				continue
			default:
				return nil, version, resp.Err
			}

		default:
			conn.Close()
			return nil, version, transport.NewClusterError(transport.UnableToConnect, fmt.Sprintf("unexpected STARTUP response opcode %d", resp.Opcode))
		}
	}
}

func authenticate(ctx context.Context, conn transport.FrameConn, provider transport.AuthProvider) error {
	if provider == nil {
		return transport.NewClusterError(transport.AuthError, "server requires authentication but no auth_provider is configured")
	}
	user, pass := provider.Credentials()

	resp, err := conn.SendRequest(ctx, transport.Request{
		Opcode:       transport.OpAuthResponse,
		AuthResponse: []byte("\x00" + user + "\x00" + pass),
	})
	if err != nil {
		return transport.WrapClusterError(transport.AuthError, "sending AUTH_RESPONSE", err)
	}

	switch resp.Opcode {
	case transport.OpAuthSuccess:
		return nil
	case transport.OpError:
		if resp.Err != nil {
			return &transport.ClusterError{Kind: transport.AuthError, Msg: resp.Err.Msg, Cause: resp.Err.Cause}
		}
		return transport.NewClusterError(transport.AuthError, "authentication rejected")
	default:
		return transport.NewClusterError(transport.AuthError, fmt.Sprintf("unexpected AUTH_RESPONSE reply opcode %d", resp.Opcode))
	}
}

// bootstrapTopology implements spec.md §4.G steps 3-4: query system.local
// and system.peers, populate the registry, and build the token map.
func (c *Connection) bootstrapTopology(ctx context.Context) error {
	localRows, err := c.query(ctx, "SELECT rpc_address, listen_address, host_id, rack, data_center, release_version, partitioner, dse_version, tokens FROM system.local WHERE key='local'")
	if err != nil {
		return err
	}
	if len(localRows.Rows) == 0 {
		return transport.NewClusterError(transport.UnableToConnect, "system.local returned no rows")
	}
	localRow := localRows.Rows[0]

	localHost := decodeHostRow(localRow, c.addr)
	c.mu.Lock()
	c.localDC = localHost.Datacenter
	c.mu.Unlock()
	c.registry.OnAdd(localHost)

	peerRows, err := c.query(ctx, "SELECT peer, rpc_address, host_id, rack, data_center, release_version, dse_version, tokens, schema_version FROM system.peers")
	if err != nil {
		return err
	}
	hosts := []*host.Host{localHost}
	for _, row := range peerRows.Rows {
		addr := row["rpc_address"]
		if addr == "" || (host.Address{Host: addr}).IsAnyLocal() {
			addr = row["peer"]
		}
		h := decodeHostRow(row, host.Address{Host: addr, Port: c.addr.Port})
		c.registry.OnAdd(h)
		hosts = append(hosts, h)
	}

	return c.buildTokenMap(ctx, localRow["partitioner"], hosts)
}

// buildTokenMap implements spec.md §4.G step 4: build the ring, or skip
// gracefully if the partitioner is unsupported.
func (c *Connection) buildTokenMap(ctx context.Context, partitionerName string, hosts []*host.Host) error {
	tm, err := tokenmap.FromPartitionerName(partitionerName)
	if err != nil {
		return transport.WrapClusterError(transport.UnableToConnect, "resolving partitioner "+partitionerName, err)
	}
	if tm == nil {
		c.logger.Printf("unsupported partitioner %q, continuing without token-awareness", partitionerName)
		return nil
	}

	for _, h := range hosts {
		if err := tm.AddHost(h); err != nil {
			return transport.WrapClusterError(transport.UnableToConnect, "adding host to token map", err)
		}
	}

	ksRows, err := c.query(ctx, "SELECT keyspace_name, replication FROM system_schema.keyspaces")
	if err != nil {
		return err
	}
	rows := make([]tokenmap.KeyspaceRow, 0, len(ksRows.Rows))
	for _, row := range ksRows.Rows {
		rows = append(rows, tokenmap.KeyspaceRow{
			Name:        row["keyspace_name"],
			Replication: decodeReplicationMap(row["replication"]),
		})
	}
	if err := tm.AddKeyspaces(rows); err != nil {
		return transport.WrapClusterError(transport.UnableToConnect, "parsing replication specs", err)
	}
	tm.Build()

	c.mu.Lock()
	c.tokenMap = tm
	c.mu.Unlock()
	c.registry.NotifyTokenMapUpdated()
	return nil
}

func (c *Connection) query(ctx context.Context, cql string) (*transport.Rows, error) {
	resp, err := c.conn.SendRequest(ctx, transport.Request{Opcode: transport.OpQuery, Query: cql})
	if err != nil {
		return nil, transport.WrapClusterError(transport.UnableToConnect, "executing "+cql, err)
	}
	if resp.Opcode == transport.OpError {
		if resp.Err != nil {
			return nil, resp.Err
		}
		return nil, transport.NewClusterError(transport.UnableToConnect, "query failed: "+cql)
	}
	if resp.Rows == nil {
		return &transport.Rows{}, nil
	}
	return resp.Rows, nil
}

// decodeHostRow builds a Host from a system.local/system.peers row (spec.md
// §6.2), keyed by addr as given. Callers never pass the unspecified address
// (0.0.0.0 / ::, see host.Address.IsAnyLocal): the system.local row is keyed
// by the address actually dialed, and a peer row whose rpc_address is empty
// or unspecified is keyed by its peer column.
func decodeHostRow(row map[string]string, addr host.Address) *host.Host {
	h := host.New(addr)
	h.Rack = row["rack"]
	h.Datacenter = row["data_center"]
	h.CassandraVersion = row["release_version"]
	h.DSEVersion = row["dse_version"]
	if id := row["host_id"]; id != "" {
		if parsed, err := uuid.Parse(id); err == nil {
			h.HostID = parsed
		}
	}
	if listen := row["listen_address"]; listen != "" {
		h.ListenAddress = host.Address{Host: listen, Port: addr.Port}
	}
	if toks := row["tokens"]; toks != "" {
		h.Tokens = strings.Split(toks, ",")
	}
	return h
}

// decodeReplicationMap parses the "k1=v1,k2=v2" encoding this package uses
// to carry system_schema.keyspaces.replication (a map<varchar,varchar>)
// across the structured Request/Response boundary (spec.md §6.3).
func decodeReplicationMap(encoded string) map[string]string {
	out := make(map[string]string)
	if encoded == "" {
		return out
	}
	for _, pair := range strings.Split(encoded, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

// WaitSchemaAgreement implements spec.md §4.G step 6: poll
// system.local.schema_version on the connected host and
// system.peers.schema_version on every up peer every ~200ms until they
// all agree or maxWait elapses. A timeout logs a warning and returns nil
// (success is surfaced anyway), matching "on timeout, log a warning and
// surface success anyway."
func (c *Connection) WaitSchemaAgreement(ctx context.Context, maxWait time.Duration) error {
	if maxWait <= 0 {
		maxWait = c.settings.MaxSchemaAgreementWait
	}
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		agree, err := c.schemaVersionsAgree(ctx)
		if err != nil {
			return err
		}
		if agree {
			return nil
		}
		if time.Now().After(deadline) {
			c.logger.Println("schema agreement wait timed out, proceeding anyway")
			return nil
		}
		select {
		case <-ctx.Done():
			return transport.WrapClusterError(transport.UnableToConnect, "waiting for schema agreement", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Connection) schemaVersionsAgree(ctx context.Context) (bool, error) {
	localRows, err := c.query(ctx, "SELECT schema_version FROM system.local WHERE key='local'")
	if err != nil {
		return false, err
	}
	if len(localRows.Rows) == 0 {
		return false, transport.NewClusterError(transport.UnableToConnect, "system.local returned no rows for schema_version")
	}
	local := localRows.Rows[0]["schema_version"]

	peerRows, err := c.query(ctx, "SELECT peer, schema_version FROM system.peers")
	if err != nil {
		return false, err
	}
	versions := map[string]bool{local: true}
	for _, row := range peerRows.Rows {
		addr := host.Address{Host: row["peer"], Port: c.addr.Port}
		h, ok := c.registry.Get(addr)
		if !ok || !h.IsUp() {
			continue
		}
		versions[row["schema_version"]] = true
	}
	return len(versions) == 1, nil
}

// Events exposes the decoded server event stream, nil if events were
// disabled at bootstrap.
func (c *Connection) Events() <-chan transport.Event { return c.events }

// Close tears down the control connection without starting a
// reconnection loop (spec.md §4.I "cluster.close()" path).
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// DispatchEvents consumes c.Events() until the channel closes or ctx is
// done, applying each event to the registry (spec.md §5 "Events from a
// single control connection are observed by listeners in the order they
// were received from the server"). It returns nil if ctx ended the loop,
// or a non-nil error if the channel closed first — the latter signals an
// unexpected close to the caller, which should drive spec.md §4.G step 7's
// reconnection loop.
func (c *Connection) DispatchEvents(ctx context.Context) error {
	if c.events == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.events:
			if !ok {
				return transport.NewClusterError(transport.UnableToConnect, "control connection closed unexpectedly")
			}
			c.applyEvent(ev)
		}
	}
}

func (c *Connection) applyEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.StatusChange:
		switch ev.StatusType {
		case transport.NodeUp:
			c.registry.NotifyUp(ev.Address)
		case transport.NodeDown:
			c.registry.NotifyDown(ev.Address)
		}
	case transport.TopologyChange:
		switch ev.TopologyType {
		case transport.NewNode:
			if _, ok := c.registry.Get(ev.Address); !ok {
				c.registry.OnAdd(host.New(ev.Address))
			}
		case transport.RemovedNode:
			c.registry.OnRemove(ev.Address)
		}
	case transport.SchemaChange:
		c.mu.RLock()
		tm := c.tokenMap
		c.mu.RUnlock()
		if tm == nil {
			return
		}
		if ev.SchemaType == transport.KeyspaceDropped {
			tm.DropKeyspace(ev.Keyspace)
		}
		c.registry.NotifyTokenMapUpdated()
	}
}

// SortedHostAddresses is a small diagnostic helper used by cmd/clusterctl.
func SortedHostAddresses(hosts host.Map) []string {
	out := make([]string, 0, len(hosts))
	for addr := range hosts {
		out = append(out, addr.String())
	}
	sort.Strings(out)
	return out
}
