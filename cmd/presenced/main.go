package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/presenced/internal/advertise"
	"github.com/chaz8081/presenced/internal/api"
	"github.com/chaz8081/presenced/internal/ble"
	"github.com/chaz8081/presenced/internal/config"
	"github.com/chaz8081/presenced/internal/discovery"
	"github.com/chaz8081/presenced/internal/engine"
	"github.com/chaz8081/presenced/internal/peerid"
	"github.com/chaz8081/presenced/internal/push"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/presenced/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init: %v", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
			return
		}
		fmt.Println("Wrote", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	if err := run(cfg); err != nil {
		slog.Error("presenced exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// Validate already checked these.
	codec, err := cfg.Codec()
	if err != nil {
		return err
	}
	params, err := cfg.AdvertisingParams()
	if err != nil {
		return err
	}
	secret, err := cfg.ReadSecret()
	if err != nil {
		return err
	}
	newID := peerIDSource(cfg.PeerID, secret)

	var probe ble.PowerProbe
	if runtime.GOOS == "linux" {
		probe = ble.BlueZProbe{Adapter: cfg.Adapter}
	}
	radio := ble.NewTinyGoRadio(cfg.Adapter, probe)
	eng := engine.New(radio, engine.Options{
		Codec:   codec,
		History: cfg.Discovery.History,
		Advertise: advertise.Options{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Discovery: discovery.Options{
			ServiceUUID:   ble.ServiceUUID,
			StaleAfter:    cfg.Discovery.StaleAfter,
			SweepInterval: cfg.Discovery.SweepInterval,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })

	if cfg.HTTP.Addr != "" {
		h := api.NewHandler(eng, push.NewDistributor(cfg.Push.ProjectNumber), params, newID)
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.NewRouter(h),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		g.Go(func() error {
			slog.Info("[API] listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Advertising.Autostart {
		g.Go(func() error {
			id, err := newID()
			if err != nil {
				return err
			}
			// A failed start leaves the daemon scanning; the API can retry.
			if _, err := eng.Start(ctx, params, id); err != nil && ctx.Err() == nil {
				slog.Warn("[ENGINE] autostart failed", "peer", id, "error", err)
			}
			return nil
		})
	}

	notify(daemon.SdNotifyReady)
	slog.Info("Ready. Ctrl+C to quit.")

	<-ctx.Done()
	notify(daemon.SdNotifyStopping)
	slog.Info("Shutting down...")

	err = g.Wait()
	slog.Info("Goodbye!")
	return err
}

// peerIDSource returns the function that picks the id for each advertising
// session: the fixed id when configured, otherwise a freshly derived one.
func peerIDSource(fixed string, secret []byte) func() (peerid.ID, error) {
	if fixed != "" {
		id := peerid.ID(fixed)
		return func() (peerid.ID, error) { return id, nil }
	}
	return func() (peerid.ID, error) {
		s, err := peerid.NewSession(secret)
		if err != nil {
			return "", err
		}
		slog.Info("[ENGINE] new session", "session", s.ID, "peer", s.PeerID)
		return s.PeerID, nil
	}
}

func notify(state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		slog.Warn("sd_notify failed", "state", state, "error", err)
	} else if ok {
		slog.Debug("sd_notify sent", "state", state)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	peer := cfg.PeerID
	if peer == "" {
		peer = "(per session)"
	}
	httpAddr := cfg.HTTP.Addr
	if httpAddr == "" {
		httpAddr = "(disabled)"
	}
	fmt.Println("=== presenced ===")
	fmt.Printf("  Peer:      %s\n", peer)
	fmt.Printf("  Adapter:   %s\n", cfg.Adapter)
	fmt.Printf("  Advertise: %s, tx %s, connectable=%t, autostart=%t\n",
		cfg.Advertising.Mode, cfg.Advertising.TxPower, cfg.Advertising.Connectable, cfg.Advertising.Autostart)
	fmt.Printf("  Discovery: stale after %s, sweep every %s\n", cfg.Discovery.StaleAfter, cfg.Discovery.SweepInterval)
	fmt.Printf("  HTTP:      %s\n", httpAddr)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("=================")
}
