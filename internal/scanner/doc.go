// Package scanner holds the value types shared by every layer of the safety
// laser scanner driver: angles in tenths of a degree, scan ranges, IO pin
// states and the scanner-agnostic LaserScan handed to callers.
//
// Layering inside internal/scanner:
//
//	protocol  wire codec for control requests, replies and monitoring frames
//	frames    monitoring frame to LaserScan conversion
//	session   start/stop session state machine and controller
//	network   UDP, capture replay and mock transports
//	msgconv   middleware message mapping (IO state, laser scan)
//
// Dependency rule: this package depends on nothing else in internal/scanner.
package scanner
