// Package socks5 provides the SOCKS5 wire primitives shared by sshsocks.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 to
// keep the server's handshake, request header, address decoding and reply
// encoding in one place. Only the "no authentication" method and the IPv4 and
// domain-name address types are supported.
//
// This package is not a full SOCKS5 server; internal/proxy drives the session
// state machine and command handling on top of these helpers.
package socks5
