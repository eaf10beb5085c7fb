// Package protocol implements the arena's binary datagram format.
// Every message starts with a one byte command tag; scalars are big-endian and
// floats travel as their IEEE-754 bit pattern.
package protocol
