package transport

import (
	"context"

	"github.com/scylladb/cqlcluster/host"
)

// Opcode mirrors the CQL native-protocol opcodes the core issues or
// receives (spec.md §6.1). The wire encoding of each opcode's body is an
// external collaborator's concern; the core only needs to name them.
type Opcode uint8

const (
	OpError Opcode = iota
	OpStartup
	OpReady
	OpAuthenticate
	OpOptions
	OpSupported
	OpQuery
	OpResult
	OpPrepare
	OpExecute
	OpRegister
	OpEvent
	OpBatch
	OpAuthChallenge
	OpAuthResponse
	OpAuthSuccess
)

// ResultKind classifies an OpResult response body (spec.md §6.1).
type ResultKind int

const (
	ResultVoid ResultKind = iota
	ResultRows
	ResultSetKeyspace
	ResultPrepared
	ResultSchemaChange
)

// Rows is a decoded result set. Every value is carried as its CQL text
// representation; the core only ever reads system-table metadata columns
// (addresses, UUIDs, token strings, version strings), so this avoids
// pulling the generic CQL type-decoder into scope.
type Rows struct {
	Rows []map[string]string
}

// Request is one outbound native-protocol message, already decomposed
// into the fields the core cares about; a concrete FrameConn is
// responsible for encoding it onto the wire (spec.md §1 Non-goals, §6.1).
type Request struct {
	Opcode Opcode

	// StartupOptions carries CQL_VERSION and, when negotiated, COMPRESSION
	// (OpStartup).
	StartupOptions map[string]string
	// AuthResponse carries the SASL token (OpAuthResponse).
	AuthResponse []byte
	// Query carries CQL text (OpQuery). The core only ever issues
	// parameterless system-table SELECTs, so there is no bind-variable
	// payload to model here.
	Query string
}

// Response is one inbound native-protocol message, already decomposed by
// the external codec into the fields the core consumes.
type Response struct {
	Opcode Opcode

	// ResultKind / Rows apply when Opcode == OpResult.
	ResultKind ResultKind
	Rows       *Rows

	// Authenticator names the SASL mechanism requested (OpAuthenticate).
	Authenticator string
	// AuthSuccessToken carries the final SASL token (OpAuthSuccess).
	AuthSuccessToken []byte

	// SupportedOptions answers an OPTIONS request (spec.md §6.4
	// PRODUCT_TYPE).
	SupportedOptions map[string][]string

	// Err is set when Opcode == OpError; callers classify it into a
	// ClusterError kind based on the error code an external decoder has
	// already translated.
	Err *ClusterError
}

// FrameConn is the external wire-codec boundary the control connection
// driver and cluster connector consume (spec.md §6.1): "send_request,
// subscribe_events, supported_options". A concrete implementation owns
// the actual CQL binary framing, compression, and per-connection
// pipelining, none of which are defined here.
type FrameConn interface {
	SendRequest(ctx context.Context, req Request) (Response, error)
	SubscribeEvents(ctx context.Context, topology, status, schema bool) (<-chan Event, error)
	SupportedOptions(ctx context.Context) (map[string][]string, error)
	Close() error
}

// Dialer opens a FrameConn to one address at one negotiated protocol
// version. Implementations own DNS resolution results, TCP/TLS setup, and
// STARTUP's transport-level handshake; the core only ever holds the
// resulting FrameConn.
type Dialer interface {
	Dial(ctx context.Context, addr host.Address, version ProtocolVersion, ssl *SSLContext) (FrameConn, error)
}
