// Package server implements the arena's UDP coordinator and admin HTTP API.
//
// Server owns the socket and all shared state. It runs five long-lived loops
// under one errgroup: the receive loop routes acknowledgments straight to the
// reliable engine and queues everything else, the dispatcher applies queued
// requests, the tick loop advances the world and broadcasts ALL_ENTITIES, the
// sweeper evicts silent sessions, and the TaskPool runs reliable barriers.
//
// Locks are always taken session table first, world second.
package server
