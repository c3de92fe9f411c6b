// Package session owns the start/stop session with one scanner: the phase
// model (StateMachine), the Controller that drives it from two transports and
// a reply timer, and the one-shot Completion handles returned to callers.
//
// Dependency rule: session may depend on protocol, frames and network, never
// on storage or monitor.
package session
