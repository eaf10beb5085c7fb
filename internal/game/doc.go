// Package game holds the authoritative world: ships, bullets and asteroids,
// the fixed-step simulation that moves them, and the match lifecycle.
package game
