// Package transport carries the ambient contracts the rest of the driver
// is built against: logging, the error taxonomy, cluster-wide settings,
// event types, and the external wire-codec boundary (spec.md §6.1). It
// deliberately does not implement the CQL binary protocol itself — that is
// an external collaborator the core consumes through the FrameConn
// interface defined in codec.go.
package transport

import "log"

// Logger is the sink every component in the driver logs through; nothing
// here depends on a concrete logging backend (spec.md §1 lists logging as
// an external collaborator).
type Logger interface {
	Print(v ...any)
	Printf(format string, v ...any)
	Println(v ...any)
}

// DefaultLogger discards everything. It is the zero-value logger so a
// ClusterSettings left unconfigured never panics on a nil Logger.
type DefaultLogger struct{}

func (DefaultLogger) Print(_ ...any)            {}
func (DefaultLogger) Printf(_ string, _ ...any) {}
func (DefaultLogger) Println(_ ...any)          {}

// DebugLogger delegates to the standard library's global logger.
type DebugLogger struct{}

func (DebugLogger) Print(v ...any)                 { log.Print(v...) }
func (DebugLogger) Printf(format string, v ...any) { log.Printf(format, v...) }
func (DebugLogger) Println(v ...any)               { log.Println(v...) }

// PrefixLogger tags every line with a component name before delegating,
// so a single configured backend can distinguish the control connection's
// log lines from the connector's or the session's.
type PrefixLogger struct {
	Prefix string
	Next   Logger
}

func (p PrefixLogger) Print(v ...any) {
	p.Next.Print(append([]any{p.Prefix + ": "}, v...)...)
}

func (p PrefixLogger) Printf(format string, v ...any) {
	p.Next.Printf(p.Prefix+": "+format, v...)
}

func (p PrefixLogger) Println(v ...any) {
	p.Next.Println(append([]any{p.Prefix + ": "}, v...)...)
}
