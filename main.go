package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/sshsocks/internal/config"
	"github.com/die-net/sshsocks/internal/dialer"
	"github.com/die-net/sshsocks/internal/metrics"
	"github.com/die-net/sshsocks/internal/proxy"
	"github.com/die-net/sshsocks/internal/ssh"
	"github.com/die-net/sshsocks/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := parseConfig(pflag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}
	if cfg.Verbose {
		log.Printf("config:\n%s", cfg)
	}

	ka, err := config.ParseTCPKeepAlive(cfg.Outbound.TCPKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}
	rateLimit, err := cfg.SOCKS5.RateLimit()
	if err != nil {
		return fmt.Errorf("invalid --relay-rate-limit: %w", err)
	}

	d, err := dialer.New(dialer.Config{
		DialTimeout:        cfg.Outbound.DialTimeout,
		NegotiationTimeout: cfg.SOCKS5.NegotiationTimeout,
		KeepAlive:          ka,
		DNSServer:          cfg.Outbound.DNSServer,
	}, cfg.Outbound.Upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	passphrase := ssh.TerminalPassphrase
	if cfg.SSH.KeyPassphrase != "" {
		passphrase = ssh.StaticPassphrase(cfg.SSH.KeyPassphrase)
	}
	signers, err := ssh.LoadSigners(cfg.SSH.Key, passphrase)
	if err != nil {
		return fmt.Errorf("ssh key: %w", err)
	}
	hostKeyCallback, err := ssh.NewHostKeyCallback(cfg.SSH.KnownHosts)
	if err != nil {
		return fmt.Errorf("ssh known hosts: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.DebugListen != "" {
		m = metrics.New()
		http.Handle("/metrics", promhttp.Handler())

		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", cfg.DebugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Printf("debug listening on %s", cfg.DebugListen)
	}

	var sup *supervisor.Supervisor
	lost := make(chan error, 1)

	tunnel, err := ssh.NewTunnel(ssh.TunnelConfig{
		Addr: cfg.SSH.Address,
		Client: ssh.ClientConfig{
			Username:         cfg.SSH.User,
			Password:         cfg.SSH.Password,
			Signers:          signers,
			HostKeyCallback:  hostKeyCallback,
			HandshakeTimeout: cfg.SSH.HandshakeTimeout,
		},
		DialTimeout:       cfg.Outbound.DialTimeout,
		TCPKeepAlive:      ka,
		KeepAliveInterval: cfg.SSH.KeepAliveInterval,
		KeepAliveMax:      cfg.SSH.KeepAliveMax,
		OnLost: func(err error) {
			select {
			case lost <- err:
			default:
			}
			sup.Stop()
		},
		Metrics: m,
		Verbose: cfg.Verbose,
	})
	if err != nil {
		return err
	}

	sup = supervisor.New(supervisor.Config{
		RemoteHost: cfg.Forward.RemoteHost,
		RemotePort: cfg.Forward.RemotePort,
		KeepAlive:  ka,
		ReusePort:  cfg.Listen.ReusePort,
	}, tunnel, proxy.Config{
		Dialer:             d,
		NegotiationTimeout: cfg.SOCKS5.NegotiationTimeout,
		KeepAlive:          ka,
		Sentinel:           cfg.SOCKS5.Sentinel,
		LegacyReplies:      cfg.SOCKS5.LegacyReplies,
		BindHost:           cfg.SOCKS5.BindHost,
		BindTimeout:        cfg.SOCKS5.BindTimeout,
		UDPIdleTimeout:     cfg.SOCKS5.UDPIdleTimeout,
		RelayRateLimit:     rateLimit,
		Metrics:            m,
		Verbose:            cfg.Verbose,
	})

	if err := sup.Start(ctx, cfg.Listen.Host, cfg.Listen.Port); err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	if cfg.SOCKS5.Sentinel != "" {
		log.Printf("socks5: a request for %q stops the proxy", cfg.SOCKS5.Sentinel)
	}

	select {
	case <-ctx.Done():
		log.Print("shutting down")
	case <-sup.Done():
	}
	sup.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	if err := sup.Drain(drainCtx); err != nil {
		log.Printf("socks5: abandoning in-flight sessions: %v", err)
	}

	stop()
	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	select {
	case lostErr := <-lost:
		return fmt.Errorf("ssh tunnel lost: %w", lostErr)
	default:
	}
	return err
}

// parseConfig parses args into fs. When --config names a file, the file is
// the base and only flags given explicitly override it.
func parseConfig(fs *pflag.FlagSet, args []string) (*config.Config, error) {
	configPath := fs.String("config", "", "YAML config file; flags given explicitly override its values")
	cfg := config.Default()
	config.BindFlags(fs, cfg)

	fs.SortFlags = false
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg, err = config.Overlay(fs, fileCfg)
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
