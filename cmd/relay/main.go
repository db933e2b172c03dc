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

	"github.com/omochice/chat-relay/internal/bridge"
	"github.com/omochice/chat-relay/internal/config"
	"github.com/omochice/chat-relay/internal/logging"
	"github.com/omochice/chat-relay/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// hostTick is how often queued chat is handed to the simulated game server.
const hostTick = 50 * time.Millisecond

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile  string
		endpoint string
		player   string
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay game server events to a chat peer over websocket",
		Long: `relay simulates a game server host. Each stdin line is a player
event sent to the peer:

  /join    a player joins
  /quit    a player leaves
  text     the player says text

Chat coming from the peer is printed to stdout.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.LoadRelay()
			if err != nil {
				return err
			}
			if endpoint != "" {
				cfg.Endpoint = endpoint
			}
			if player != "" {
				cfg.PlayerName = player
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "file with environment variables to load")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "peer websocket URL (overrides RELAY_ENDPOINT)")
	cmd.Flags().StringVar(&player, "name", "", "player name used for chat (overrides RELAY_PLAYER_NAME)")
	return cmd
}

func run(ctx context.Context, cfg config.RelayConfig, in io.Reader, out io.Writer) error {
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsServer := serveMetrics(cfg.MetricsAddr, reg, logger)

	queue := relay.NewQueue()
	b := bridge.New(bridge.BroadcasterFunc(func(line string) {
		fmt.Fprintln(out, line)
	}), logger.Named("bridge"))

	manager := relay.New(cfg.Endpoint, b,
		relay.WithReconnectDelay(cfg.ReconnectDelay),
		relay.WithHandshakeTimeout(cfg.HandshakeTimeout),
		relay.WithWriteTimeout(cfg.WriteTimeout),
		relay.WithCloseTimeout(cfg.CloseTimeout),
		relay.WithDispatcher(queue),
		relay.WithLogger(logger.Named("relay")),
		relay.WithMetrics(relay.NewMetrics(reg)),
	)
	b.Attach(manager)
	b.Enable()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan string)
	go readLines(in, lines)

	host := &host{bridge: b, player: cfg.PlayerName}
	ticker := time.NewTicker(hostTick)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("received signal, shutting down")
			break loop
		case <-ticker.C:
			queue.Drain()
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			host.handle(line)
		}
	}

	b.Disable()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}

// host stands in for the game server: it keeps the online player count and
// turns stdin lines into server events.
type host struct {
	bridge *bridge.Bridge
	player string
	online int
}

func (h *host) handle(line string) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
	case "/join":
		h.online++
		h.bridge.PlayerJoined(h.online)
	case "/quit":
		if h.online == 0 {
			return
		}
		h.bridge.PlayerQuit(h.online)
		h.online--
	default:
		h.bridge.Chat(h.player, line)
	}
}

func readLines(in io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
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
