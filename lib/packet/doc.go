// Package packet implements the binary wire formats exchanged between
// relay hops.
//
// # Packet Families
//
// Two families share the wire:
//   - Communication packets start with a four byte magic prefix, a type code,
//     a protocol version and a 32 byte packet id. They are requests and
//     responses between peers.
//   - Data packets start with a single type code byte. They are the payloads
//     that communication packets carry and that the storage layer keeps.
//
// Decode tells the two apart by the magic prefix. Both families use a
// closed set of type codes; an unknown code is rejected with
// ErrRejectedFormat and a buffer too short for its mandatory fields with
// ErrMalformedPacket. Bytes left over after a complete structure are logged
// and ignored.
//
// All integers are big-endian. Variable length fields carry a two byte
// length prefix.
//
// # Size
//
// An encoded packet must fit in one transport datagram (MaxDatagramSize).
// Larger content has to be fragmented before it is packetized; IsTooBig
// reports packets that would not fit.
package packet
