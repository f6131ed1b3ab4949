package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/term"
)

// AgentAuthType is the special value for --ssh-key to use the SSH agent.
const AgentAuthType = "agent"

// PassphraseFunc returns the passphrase for the encrypted key at path.
type PassphraseFunc func(path string) ([]byte, error)

// AgentAvailable returns true if the SSH agent socket is available.
func AgentAvailable() bool {
	return os.Getenv("SSH_AUTH_SOCK") != ""
}

// AgentSigners connects to the SSH agent and returns all available signers.
func AgentSigners() ([]ssh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}

	var d net.Dialer
	conn, err := d.DialContext(context.Background(), "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connecting to SSH agent: %w", err)
	}
	// conn stays open for the lifetime of the signers.

	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("getting signers from SSH agent: %w", err)
	}
	if len(signers) == 0 {
		_ = conn.Close()
		return nil, errors.New("no keys available in SSH agent")
	}

	return signers, nil
}

// StaticPassphrase returns a PassphraseFunc that always yields passphrase.
func StaticPassphrase(passphrase string) PassphraseFunc {
	return func(string) ([]byte, error) {
		return []byte(passphrase), nil
	}
}

// TerminalPassphrase prompts for a passphrase on the controlling terminal
// without echo. It fails if stdin is not a terminal.
func TerminalPassphrase(path string) ([]byte, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // File descriptors fit in int.
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("key %s is passphrase protected and stdin is not a terminal", path)
	}

	fmt.Fprintf(os.Stderr, "Enter passphrase for %s: ", path)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return pass, nil
}

// LoadPrivateKey reads and parses an OpenSSH private key file. Encrypted keys
// are decrypted with the passphrase returned by passphrase; a nil passphrase
// makes encrypted keys an error.
func LoadPrivateKey(path string, passphrase PassphraseFunc) (ssh.Signer, error) {
	keyData, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && passphrase != nil {
		pass, perr := passphrase(path)
		if perr != nil {
			return nil, perr
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, pass)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}

	return signer, nil
}

// LoadSigners loads SSH signers based on the keyPath value:
//   - "agent": connects to the SSH agent and returns all available signers
//   - "": returns nil (no key authentication)
//   - otherwise: loads the private key file at the given path
func LoadSigners(keyPath string, passphrase PassphraseFunc) ([]ssh.Signer, error) {
	switch keyPath {
	case "":
		return nil, nil
	case AgentAuthType:
		return AgentSigners()
	default:
		signer, err := LoadPrivateKey(keyPath, passphrase)
		if err != nil {
			return nil, err
		}
		return []ssh.Signer{signer}, nil
	}
}
