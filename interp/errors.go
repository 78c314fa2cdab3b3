package interp

import (
	"fmt"
	"log"
)

// logRoutingAnomaly logs a non-fatal routing condition (spec.md §7:
// "Log and discard; never abort") in the plain log.Printf style the
// teacher uses throughout partitions/ and runner/.
func logRoutingAnomaly(format string, args ...interface{}) {
	log.Printf("interp: routing anomaly: "+format, args...)
}

// ConfigurationError is raised at construction when the two IndexMaps
// handed to New cannot compose: differing block sizes or
// communicators. The resulting operator is unusable, per spec.md §7.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "interp: configuration error: " + e.Msg }

// UsageError covers call-site misuse: apply before finalize, finalize
// called twice, or addRow after finalize. State is left unchanged.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return "interp: usage error: " + e.Msg }

// RoutingAnomaly is logged and discarded, never fatal: an incoming
// redistributed row names an outGlobal the receiver does not own, or
// an addRow names an out-of-range global or negative fan-in.
type RoutingAnomaly struct {
	Msg string
}

func (e *RoutingAnomaly) Error() string { return "interp: routing anomaly: " + e.Msg }

// TransportError wraps a failure from the underlying comm.Communicator.
// It is always fatal; the operator becomes unusable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("interp: transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
