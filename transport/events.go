package transport

import "github.com/scylladb/cqlcluster/host"

// EventKind classifies a server-pushed event (spec.md §4.G step 5: the
// control connection subscribes to TOPOLOGY_CHANGE, STATUS_CHANGE, and
// SCHEMA_CHANGE).
type EventKind int

const (
	TopologyChange EventKind = iota
	StatusChange
	SchemaChange
)

// TopologyChangeType is the sub-kind of a TopologyChange event.
type TopologyChangeType int

const (
	NewNode TopologyChangeType = iota
	RemovedNode
)

// StatusChangeType is the sub-kind of a StatusChange event.
type StatusChangeType int

const (
	NodeUp StatusChangeType = iota
	NodeDown
)

// SchemaChangeType is the sub-kind of a SchemaChange event.
type SchemaChangeType int

const (
	KeyspaceCreated SchemaChangeType = iota
	KeyspaceUpdated
	KeyspaceDropped
)

// Event is one decoded server push notification. Exactly one of the
// type-specific fields is meaningful, selected by Kind.
type Event struct {
	Kind EventKind

	TopologyType TopologyChangeType
	StatusType   StatusChangeType
	SchemaType   SchemaChangeType

	Address  host.Address // TopologyChange / StatusChange
	Keyspace string       // SchemaChange
}
