// Package tunnel implements the fixed-size layered tunnel message and the
// three roles that handle it.
//
// # Roles
//
//   - Gateway: holds every hop's keys and wraps a payload in one layer per
//     hop, so that each hop in order can remove exactly one.
//   - Participant: verifies the tag, removes its layer, rewrites the tunnel
//     id and forwards to the next hop.
//   - Endpoint: verifies and removes the last layer and returns the body.
//
// Every tunnel message is TunnelMessageSize bytes at every hop. A hop that
// fails any check drops the message and returns the reason; nothing is
// retried or reported back along the tunnel.
//
// # Preprocessing
//
// Above the layers, a Preprocessor packs queued messages into blocks, each
// fragment preceded by its delivery instructions. A message never takes
// more blocks than it has fragments and a partial block waits at most the
// flush delay. On the far side a FragmentHandler validates each block,
// reassembles fragmented messages and hands them to a MessageHandler.
//
// # Usage
//
//	hops, _ := tunnel.RandomHopChain(gatewayHash, peers, expiration)
//	gw, _ := tunnel.NewGateway(hops)
//	pre, _ := tunnel.NewPreprocessor(gw.PayloadSize())
//	pre.Enqueue(msg, tunnel.LocalDelivery())
//	blocks, _ := pre.Flush()
//	for _, b := range blocks {
//		out, _ := gw.Build(b)
//		send(peers[0], out)
//	}
//
// All exported types are safe for concurrent use.
package tunnel
