// Package ssh carries the SOCKS5 listener to a remote peer over an SSH remote
// port forward, the equivalent of ssh -R.
//
// A [Tunnel] dials the SSH server, asks it to listen on a remote address with
// a "tcpip-forward" global request, and pipes every "forwarded-tcpip"
// channel the server opens to a local TCP endpoint. An optional keepalive
// watches the transport and reports its loss.
//
// Features:
//   - Multiple auth methods: password, private key files, SSH agent
//   - Passphrase-protected keys, prompted for on the terminal
//   - Host key verification: known_hosts with trust-on-first-use (TOFU)
//   - keepalive@openssh.com probes with a failure budget
//
// Example usage:
//
//	signers, _ := ssh.LoadSigners("agent", ssh.TerminalPassphrase)
//	hostKeyCallback, _ := ssh.NewHostKeyCallback("~/.ssh/known_hosts")
//
//	t, _ := ssh.NewTunnel(ssh.TunnelConfig{
//	    Addr: "ssh.example.com:22",
//	    Client: ssh.ClientConfig{
//	        Username:        "user",
//	        Signers:         signers,
//	        HostKeyCallback: hostKeyCallback,
//	    },
//	})
//	_ = t.Connect(ctx)
//	_ = t.ForwardRemotePort(ctx, "127.0.0.1", 1080, "127.0.0.1", 1080)
//
// [Server] is a small in-process SSH server that honors remote forward
// requests, used to exercise the tunnel end to end.
package ssh
