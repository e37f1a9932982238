// Package server implements the multi-room TCP chat server.
//
// Accepted sockets flow from the Acceptor to the RoomManager, which reads a
// one-line room name and forwards the socket to that room's inbox, starting
// the room in a bounded worker pool if needed. Each Room is a single
// goroutine that polls its members with short non-blocking reads and writes
// and relays every decoded frame to every member, sender included.
//
// The implementation is organized into specialized files for configuration,
// connections, rooms, the manager, the acceptor, and the admin HTTP surface
// to keep the codebase maintainable and testable as the project grows.
package server
