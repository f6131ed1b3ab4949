// Package conn holds the connection plumbing shared by the SOCKS5 server and
// the SSH tunnel: keep-alive listeners, the bidirectional relay, pooled copy
// buffers and optional throughput limiting.
package conn
