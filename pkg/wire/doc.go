// Package wire defines the LOOM packet grammar: the logical packet header,
// the per-opcode payload layouts, and the thin overlay framing that selects
// reliable or unreliable delivery on top of the mesh transport.
//
// All multi-byte fields are big-endian on the wire. Variable-length bodies
// (HELLO device info, the field dictionary) are encoded as length-prefixed
// records and decoded with bounds-checked cursors; a packet whose declared
// lengths run past the received size fails to parse.
package wire
