// Package proxy implements the SOCKS5 server that sits behind the SSH remote
// forward.
//
// Each accepted connection runs as its own session: a no-auth greeting, one
// request, then CONNECT, BIND or UDP ASSOCIATE. CONNECT and BIND end in a
// bidirectional relay; UDP ASSOCIATE hands its socket to a forwarding loop
// that outlives the control connection. A request naming the configured
// sentinel domain stops the whole proxy instead of dialing anything.
package proxy
