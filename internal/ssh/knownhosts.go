package ssh

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// NewHostKeyCallback creates an ssh.HostKeyCallback for the given known_hosts
// file path. If path is empty, host key checking is disabled. Otherwise, the
// callback verifies host keys against the file, appending unknown hosts on
// first connection (trust on first use / TOFU).
//
// The parent directory and file are created if they don't exist.
func NewHostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // User explicitly disabled host key checking.
	}

	if err := ensureFile(path); err != nil {
		return nil, err
	}

	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts: %w", err)
	}

	kh := &knownHosts{path: path, check: check}
	return kh.verify, nil
}

type knownHosts struct {
	path  string
	check ssh.HostKeyCallback

	// mu serializes appends and guards learned.
	mu      sync.Mutex
	learned map[string]ssh.PublicKey
}

func (kh *knownHosts) verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	err := kh.check(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}

	// A non-empty Want means the host is known under a different key.
	if len(keyErr.Want) > 0 {
		return fmt.Errorf("host key mismatch for %s (possible MITM attack): %w", hostname, err)
	}

	return kh.learn(hostname, key)
}

// learn appends key for hostname. The loaded callback does not see appended
// lines, so keys learned by this process are also checked in memory.
func (kh *knownHosts) learn(hostname string, key ssh.PublicKey) error {
	host := knownhosts.Normalize(hostname)

	kh.mu.Lock()
	defer kh.mu.Unlock()

	if prev, ok := kh.learned[host]; ok {
		if string(prev.Marshal()) != string(key.Marshal()) {
			return fmt.Errorf("host key mismatch for %s (possible MITM attack)", hostname)
		}
		return nil
	}

	f, err := os.OpenFile(kh.path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return fmt.Errorf("opening known_hosts for writing: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(knownhosts.Line([]string{host}, key) + "\n"); err != nil {
		return fmt.Errorf("writing to known_hosts: %w", err)
	}

	if kh.learned == nil {
		kh.learned = make(map[string]ssh.PublicKey)
	}
	kh.learned[host] = key

	log.Printf("ssh: added host key for %s to %s", hostname, kh.path)
	return nil
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating known_hosts directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return fmt.Errorf("creating known_hosts file: %w", err)
	}
	return f.Close()
}
