// Package reliable layers acknowledged delivery on top of unreliable datagrams.
// A delivery retransmits one message to a set of sessions until each of them
// acknowledges it, leaves, or is evicted for staying silent.
package reliable
