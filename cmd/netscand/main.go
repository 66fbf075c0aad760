// Command netscand runs the netscan worker daemon: it dequeues scan
// and firmware jobs from the scheduler substrate, drives the scan and
// firmware pipelines, persists results, and serves progress over
// WebSocket and metrics over HTTP. Grounded on firestige-Otus's
// cmd/daemon.go (config load, logging init, signal handling, graceful
// shutdown).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/abhiramgcos/soc-netscan/internal/broadcast"
	"github.com/abhiramgcos/soc-netscan/internal/config"
	"github.com/abhiramgcos/soc-netscan/internal/firmwarepipeline"
	"github.com/abhiramgcos/soc-netscan/internal/inventory"
	"github.com/abhiramgcos/soc-netscan/internal/jobstore"
	"github.com/abhiramgcos/soc-netscan/internal/log"
	"github.com/abhiramgcos/soc-netscan/internal/metrics"
	"github.com/abhiramgcos/soc-netscan/internal/scanpipeline"
	"github.com/abhiramgcos/soc-netscan/internal/substrate"
	"github.com/abhiramgcos/soc-netscan/internal/worker"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:     "netscand",
	Short:   "netscan worker daemon",
	Long:    "netscand dequeues scan and firmware jobs from the scheduler substrate, runs the scan and firmware pipelines, and serves progress over WebSocket.",
	Version: "0.1.0",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/netscan/config.yml", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon() {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		os.Exit(1)
	}

	slog.Info("netscand starting", "version", "0.1.0", "node", cfg.Node.Hostname, "config", configFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := substrate.New(cfg.Redis)
	defer func() { _ = sub.Close() }()
	if err := sub.Ping(ctx); err != nil {
		slog.Error("substrate unreachable", "error", err)
		os.Exit(1)
	}

	inv := inventory.NewMemoryStore()
	scans := jobstore.NewMemoryScanStore()
	firmwares := jobstore.NewMemoryFirmwareStore()

	scanPipeline := scanpipeline.New(cfg.Scanner)
	fwPipeline, err := firmwarepipeline.New(cfg.Firmware)
	if err != nil {
		slog.Error("failed to construct firmware pipeline", "error", err)
		os.Exit(1)
	}

	w := worker.New(cfg.Worker, cfg.Node.Hostname, sub, scans, firmwares, inv, scanPipeline, fwPipeline)

	hub := broadcast.New()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := metricsServer.Start(ctx); err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
	}

	wsServer := newWebSocketServer(cfg.WSListen, hub)
	go func() {
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("websocket server error", "error", err)
		}
	}()

	go hub.Run(ctx, sub)
	go w.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon started, dequeuing jobs")

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = wsServer.Shutdown(shutdownCtx)
			shutdownCancel()

			if metricsServer != nil {
				_ = metricsServer.Stop(context.Background())
			}

			slog.Info("daemon stopped gracefully")
			return

		case syscall.SIGHUP:
			slog.Info("received reload signal")
			if _, err := config.Load(configFile); err != nil {
				slog.Error("failed to reload config", "error", err)
			} else {
				slog.Info("configuration reloaded (restart required for pipeline/concurrency changes to take effect)")
			}
		}
	}
}

// newWebSocketServer wires /ws/scan/{id}, /ws/firmware/{id}, and
// /ws/global onto the broadcast hub. Grounded on the original API's
// WebSocket endpoints, minus authentication (spec.md Non-goals: "does
// not authenticate callers").
func newWebSocketServer(listen string, hub *broadcast.Hub) *http.Server {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/scan/", wsHandler(upgrader, hub.Subscribe, hub.Unsubscribe))
	mux.HandleFunc("/ws/firmware/", wsHandler(upgrader, hub.SubscribeFirmware, hub.UnsubscribeFirmware))
	mux.HandleFunc("/ws/global", wsHandler(upgrader, func(c *websocket.Conn, _ string) { hub.Subscribe(c, "") }, func(c *websocket.Conn, _ string) { hub.Unsubscribe(c, "") }))

	return &http.Server{
		Addr:         listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func wsHandler(upgrader websocket.Upgrader, subscribe, unsubscribe func(*websocket.Conn, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := idFromPath(r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		subscribe(conn, id)
		defer unsubscribe(conn, id)

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			broadcast.HandleKeepAlive(conn, payload)
		}
	}
}

func idFromPath(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
