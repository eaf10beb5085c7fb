// Package session tracks connected players: their ids, addresses and liveness.
// The table is the first lock in the server's lock order; callbacks passed to
// Admit, Evict and Sweep run while it is held.
package session
