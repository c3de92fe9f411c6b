// Package network provides the transports the session controller talks
// through: real UDP sockets, replay of captured traffic, and an in-memory
// mock for tests. Every transport implements Transport.
package network
