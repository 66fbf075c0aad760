// Command netscanctl is a thin control-plane CLI for the scheduler
// substrate: enqueue a job id, cancel a running job, or tail its
// progress channel. Grounded on firestige-Otus's cmd/task.go command
// grouping, adapted from UDS+daemon-lifecycle control to direct
// substrate access (this module has no separate API process to proxy
// through — see DESIGN.md).
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhiramgcos/soc-netscan/internal/config"
	"github.com/abhiramgcos/soc-netscan/internal/substrate"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:     "netscanctl",
	Short:   "netscan scheduler substrate control CLI",
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/netscan/config.yml", "config file path")

	rootCmd.AddCommand(enqueueScanCmd, enqueueFirmwareCmd, cancelScanCmd, cancelFirmwareCmd, tailScanCmd, tailFirmwareCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func connectSubstrate() (*substrate.Substrate, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	sub := substrate.New(cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sub.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to substrate: %w", err)
	}
	return sub, nil
}

func newJobID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

var enqueueScanCmd = &cobra.Command{
	Use:   "enqueue-scan",
	Short: "Enqueue a new scan job id onto soc:scan_queue",
	Long:  "Generates a job id and pushes it onto the scan queue. The caller is responsible for recording the job's target against that id in whatever job store the worker reads from.",
	Run: func(cmd *cobra.Command, args []string) {
		runEnqueue(substrate.KindScan)
	},
}

var enqueueFirmwareCmd = &cobra.Command{
	Use:   "enqueue-firmware",
	Short: "Enqueue a new firmware analysis job id onto soc:firmware_queue",
	Run: func(cmd *cobra.Command, args []string) {
		runEnqueue(substrate.KindFirmware)
	},
}

func runEnqueue(kind substrate.Kind) {
	sub, err := connectSubstrate()
	if err != nil {
		exitWithError("connect", err)
	}
	defer sub.Close()

	id := newJobID()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sub.Enqueue(ctx, kind, id); err != nil {
		exitWithError("enqueue", err)
	}
	fmt.Println(id)
}

var cancelScanCmd = &cobra.Command{
	Use:   "cancel-scan <scan-id>",
	Short: "Mark a scan job cancelled",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runCancel(substrate.KindScan, args[0])
	},
}

var cancelFirmwareCmd = &cobra.Command{
	Use:   "cancel-firmware <firmware-id>",
	Short: "Mark a firmware analysis job cancelled",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runCancel(substrate.KindFirmware, args[0])
	},
}

func runCancel(kind substrate.Kind, id string) {
	sub, err := connectSubstrate()
	if err != nil {
		exitWithError("connect", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sub.Cancel(ctx, kind, id); err != nil {
		exitWithError("cancel", err)
	}
	fmt.Printf("cancel requested for %s %s\n", kind, id)
}

var tailScanCmd = &cobra.Command{
	Use:   "tail-scan <scan-id>",
	Short: "Stream a scan job's progress channel until interrupted",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runTail(substrate.KindScan, args[0])
	},
}

var tailFirmwareCmd = &cobra.Command{
	Use:   "tail-firmware <firmware-id>",
	Short: "Stream a firmware job's progress channel until interrupted",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runTail(substrate.KindFirmware, args[0])
	},
}

func runTail(kind substrate.Kind, id string) {
	sub, err := connectSubstrate()
	if err != nil {
		exitWithError("connect", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	ps := sub.Subscribe(ctx, kind, id)
	defer ps.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ps.Channel():
			if !ok {
				return
			}
			printProgress(msg.Payload)
		}
	}
}

func printProgress(payload string) {
	var pretty map[string]any
	if err := json.Unmarshal([]byte(payload), &pretty); err != nil {
		fmt.Println(payload)
		return
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(payload)
		return
	}
	fmt.Println(string(out))
}

func exitWithError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(1)
}
