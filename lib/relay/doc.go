// Package relay implements a relay node: it accepts RelayRequests, holds
// the packet inside for a random time within the sender's window and then
// forwards it to the next hop.
//
// Pending relays are written to a Store before they are acknowledged, so
// a restarted node still forwards everything it accepted.
package relay
