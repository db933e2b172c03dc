package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/omochice/chat-relay/internal/config"
	"github.com/omochice/chat-relay/internal/logging"
	"github.com/omochice/chat-relay/internal/peer"
	"github.com/omochice/chat-relay/internal/peer/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		listen  string
		name    string
	)

	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Accept relay connections and exchange chat with them",
		Long: `peer is the chat side of the relay. It prints chat and status
reported by connected relays and sends each stdin line to them as chat.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(envFile)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}
			return run(cmd.Context(), cfg, name, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file with environment variables to load")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides PEER_LISTEN_ADDR)")
	cmd.Flags().StringVar(&name, "name", "Discord", "sender name for chat typed on stdin")

	cmd.AddCommand(newStatusCmd(&envFile), newIPCmd(&envFile))
	return cmd
}

func newStatusCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the last server status saved in PEER_DB_PATH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if cfg.DBPath == "" {
				return errors.New("PEER_DB_PATH is not set")
			}
			store, err := sqlite.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			status, at, err := store.LoadStatus(cmd.Context())
			if err != nil {
				return err
			}
			ip, err := serverIP(cmd.Context(), cfg, store)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatStatus(status, at))
			fmt.Fprintf(cmd.OutOrStdout(), "ip: %s\n", ip)
			return nil
		},
	}
}

func newIPCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ip",
		Short: "Print the game server address from SERVER_IP or PEER_DB_PATH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			var store *sqlite.Store
			if cfg.DBPath != "" {
				store, err = sqlite.Open(cfg.DBPath)
				if err != nil {
					return err
				}
				defer store.Close()
			}
			ip, err := serverIP(cmd.Context(), cfg, store)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ip)
			return nil
		},
	}
}

// serverIP prefers SERVER_IP over the address saved by a running peer.
// store may be nil.
func serverIP(ctx context.Context, cfg config.PeerConfig, store *sqlite.Store) (string, error) {
	if cfg.ServerIP != "" {
		return cfg.ServerIP, nil
	}
	if store != nil {
		ip, err := store.LoadPublicIP(ctx)
		if err != nil {
			return "", err
		}
		if ip != "" {
			return ip, nil
		}
	}
	return "unknown", nil
}

// recordPublicIP looks up the public address and saves it. Failures are
// logged only.
func recordPublicIP(ctx context.Context, cfg config.PeerConfig, store *sqlite.Store, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ip, err := peer.LookupPublicIP(ctx, nil, cfg.PublicIPURL)
	if err != nil {
		logger.Warn("failed to look up public ip", zap.Error(err))
		return
	}
	if err := store.SavePublicIP(ctx, ip); err != nil {
		logger.Warn("failed to save public ip", zap.Error(err))
		return
	}
	logger.Info("public ip", zap.String("ip", ip))
}

func loadConfig(envFile string) (config.PeerConfig, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.PeerConfig{}, err
	}
	return config.LoadPeer()
}

func run(ctx context.Context, cfg config.PeerConfig, name string, in io.Reader, out io.Writer) error {
	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var store *sqlite.Store
	if cfg.DBPath != "" {
		store, err = sqlite.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if cfg.ServerIP == "" && cfg.PublicIPURL != "" {
			go recordPublicIP(ctx, cfg, store, logger)
		}
	}

	reg := prometheus.NewRegistry()
	hub := peer.NewHub(logger.Named("hub"), peer.NewMetrics(reg))
	hub.OnChat(func(player, message string) {
		fmt.Fprintf(out, "<%s> %s\n", player, message)
	})
	hub.OnStatus(func(status peer.Status) {
		logger.Info("server status", zap.Bool("online", status.Online), zap.Int("players", status.PlayerCount))
		if store == nil {
			return
		}
		if err := store.SaveStatus(context.Background(), status, time.Now()); err != nil {
			logger.Warn("failed to save status", zap.Error(err))
		}
	})

	server := peer.NewServer(cfg.ListenAddr, hub, cfg.WriteTimeout, logger.Named("server"))
	if err := server.Listen(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve()
	}()

	metricsServer := serveMetrics(cfg.MetricsAddr, reg, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("received signal, shutting down")
			return shutdown(server, metricsServer)
		case err := <-errCh:
			_ = shutdown(server, metricsServer)
			return err
		case line, ok := <-lines:
			if !ok {
				// Keep serving after stdin closes.
				lines = nil
				continue
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			n := hub.Broadcast(name, line)
			logger.Debug("chat broadcast", zap.Int("relays", n))
		}
	}
}

func shutdown(server *peer.Server, metricsServer *http.Server) error {
	server.Stop()
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return server
}

func formatStatus(status peer.Status, at time.Time) string {
	if at.IsZero() {
		return "no status recorded"
	}
	state := "offline"
	if status.Online {
		state = "online"
	}
	return fmt.Sprintf("%s, %d player(s), updated %s", state, status.PlayerCount, at.Local().Format(time.RFC3339))
}
