// Package progress defines the wire-level event primitives shared by the
// pulseboard client and server. An Event partially describes one task's
// state; the server merges events into task records keyed by task id.
// Optional fields are pointers so a decoded event can distinguish an absent
// field from a zero value, which is what makes partial updates possible.
package progress
