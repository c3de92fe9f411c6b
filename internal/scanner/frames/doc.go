// Package frames converts decoded monitoring frames into LaserScans and
// summarises them.
//
// Dependency rule: frames may depend on protocol and the scanner value types,
// never on session or network.
package frames
