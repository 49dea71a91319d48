// Package fragment splits messages into bounded fragments and reassembles
// them on the receiving side.
//
// Split is pure: the same message and size always give the same fragments,
// indexed from 0 with the last one flagged.
//
// A Reassembler collects fragments per message id. A message completes when
// the fragment flagged last has arrived together with every lower index; it
// is then handed to the Handler exactly once. States that do not complete
// within the reassembly window are purged by Sweep (or Run) and never
// delivered. Fragments for different ids are processed concurrently; each
// id's state has its own lock.
package fragment
