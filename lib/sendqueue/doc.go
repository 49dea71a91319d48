// Package sendqueue schedules outbound communication packets and matches
// responses to the requests that caused them.
//
// Packets leave in order of their earliest send time, subject to an
// optional bandwidth limit. A sender can wait for a packet to go out with
// a SendFuture, or wait for the answer to a request with SendRequest.
package sendqueue
