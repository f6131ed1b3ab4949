// Package dialer provides the outbound dialers used for SOCKS5 CONNECT.
//
// Dialers implement a small interface (DialContext). Connections are
// established either directly, optionally resolving names against a specific
// DNS server, or through an upstream SOCKS5 proxy.
package dialer
