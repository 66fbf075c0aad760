// Package scanpipeline runs the four-stage scan: ping sweep, link-layer
// resolution, fast port scan, and deep scan. Grounded on the original
// scanner service's stage1_ping_sweep/stage2_arp_lookup/
// stage3_port_scan/stage4_deep_scan/run_full_pipeline functions, kept
// as one state machine per run rather than four free functions so the
// worker loop can observe CurrentStage between stages.
package scanpipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abhiramgcos/soc-netscan/internal/config"
	"github.com/abhiramgcos/soc-netscan/internal/jobmodel"
	"github.com/abhiramgcos/soc-netscan/internal/jobserr"
	"github.com/abhiramgcos/soc-netscan/internal/metrics"
	"github.com/abhiramgcos/soc-netscan/internal/procrunner"
	"github.com/abhiramgcos/soc-netscan/internal/scantool"
)

// Stage identifies one of the four pipeline stages for progress
// reporting.
type Stage int

const (
	StagePingSweep Stage = iota + 1
	StageLinkLayer
	StageFastPortScan
	StageDeepScan
)

const TotalStages = 4

// Progress is delivered to the caller's hook at stage boundaries and,
// during stage 3, every ten hosts processed.
type Progress struct {
	Stage   Stage
	Message string
	Hosts   int
	Skipped int
}

// ProgressFunc returning an error aborts the pipeline; returning
// jobserr.ErrCancelled marks the run cancelled rather than failed.
type ProgressFunc func(Progress) error

// Pipeline runs the four scan stages against one target expression.
type Pipeline struct {
	cfg config.ScannerConfig
}

// New constructs a Pipeline bound to scanner configuration. No
// package-level state is kept; callers own the instance.
func New(cfg config.ScannerConfig) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Run executes all four stages in order. priorPortCounts maps a MAC
// (or the surrogate identity used when a host never resolves one) to
// the open-port count last recorded for it, enabling the stage-4
// skip-unchanged optimization. A nil map disables the optimization.
func (p *Pipeline) Run(ctx context.Context, target string, priorPortCounts map[string]int, onProgress ProgressFunc) ([]jobmodel.DiscoveredHost, error) {
	start := time.Now()
	hosts, err := p.stage1PingSweep(ctx, target, onProgress)
	observeStage("ping_sweep", start)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, notify(onProgress, Progress{Stage: StagePingSweep, Message: "no live hosts found", Hosts: 0})
	}

	start = time.Now()
	hosts, err = p.stage2LinkLayer(ctx, hosts, onProgress)
	observeStage("link_layer", start)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	hosts, err = p.stage3FastPortScan(ctx, hosts, onProgress)
	observeStage("fast_port_scan", start)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	hosts, err = p.stage4DeepScan(ctx, hosts, priorPortCounts, onProgress)
	observeStage("deep_scan", start)
	if err != nil {
		return nil, err
	}

	return hosts, nil
}

// observeStage records one pipeline stage's wall-clock duration. Kind
// is fixed to "scan" (the only job kind this pipeline serves) so the
// label matches the firmware pipeline's stage metrics shape.
func observeStage(stage string, start time.Time) {
	metrics.StageDurationSeconds.WithLabelValues("scan", stage).Observe(time.Since(start).Seconds())
}

func notify(onProgress ProgressFunc, pr Progress) error {
	if onProgress == nil {
		return nil
	}
	if err := onProgress(pr); err != nil {
		return err
	}
	return nil
}

// ── Stage 1: ping sweep ──────────────────────────────────────────

func (p *Pipeline) stage1PingSweep(ctx context.Context, target string, onProgress ProgressFunc) ([]jobmodel.DiscoveredHost, error) {
	if err := notify(onProgress, Progress{Stage: StagePingSweep, Message: fmt.Sprintf("starting ping sweep of %s", target)}); err != nil {
		return nil, err
	}

	nmapPath := procrunner.FindBinary(p.cfg.NmapPath)
	argv := scantool.PingSweepArgs(nmapPath, target)
	timeout := time.Duration(scantool.PingSweepTimeout(target)) * time.Second

	res, err := procrunner.Run(ctx, argv, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jobserr.ErrExternalService, err)
	}
	if res.ExitCode != 0 && res.Stdout == "" {
		slog.Warn("ping sweep failed", "stderr", truncate(res.Stderr, 200), "exit_code", res.ExitCode)
		if err := notify(onProgress, Progress{Stage: StagePingSweep, Message: "ping sweep failed"}); err != nil {
			return nil, err
		}
		return nil, nil
	}

	hosts, parseErr := scantool.ParsePingSweepXML(res.Stdout)
	if parseErr != nil {
		slog.Warn("ping sweep output did not parse", "error", parseErr)
		return nil, nil
	}

	if err := notify(onProgress, Progress{Stage: StagePingSweep, Message: fmt.Sprintf("found %d live hosts", len(hosts)), Hosts: len(hosts)}); err != nil {
		return nil, err
	}
	slog.Info("stage1 complete", "live_hosts", len(hosts), "target", target)
	return hosts, nil
}

// ── Stage 2: link-layer resolution ───────────────────────────────

func (p *Pipeline) stage2LinkLayer(ctx context.Context, hosts []jobmodel.DiscoveredHost, onProgress ProgressFunc) ([]jobmodel.DiscoveredHost, error) {
	if err := notify(onProgress, Progress{Stage: StageLinkLayer, Message: fmt.Sprintf("resolving link layer for %d hosts", len(hosts)), Hosts: len(hosts)}); err != nil {
		return nil, err
	}

	concurrency := p.cfg.Stage2Concurrency
	timeout := time.Duration(p.cfg.Stage2TimeoutSec) * time.Second

	out := make([]jobmodel.DiscoveredHost, len(hosts))
	copy(out, hosts)

	err := fanOut(ctx, len(out), concurrency, func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.resolveLinkLayer(ctx, &out[i], timeout)
		return nil
	})
	if err != nil {
		return nil, err
	}

	resolved := 0
	for _, h := range out {
		if h.LinkLayerID != "" {
			resolved++
		}
	}
	if err := notify(onProgress, Progress{Stage: StageLinkLayer, Message: fmt.Sprintf("resolved %d/%d link-layer addresses", resolved, len(out)), Hosts: resolved}); err != nil {
		return nil, err
	}
	slog.Info("stage2 complete", "total", len(out), "resolved", resolved)
	return out, nil
}

func (p *Pipeline) resolveLinkLayer(ctx context.Context, h *jobmodel.DiscoveredHost, timeout time.Duration) {
	if h.LinkLayerID != "" {
		return
	}

	arpPath := procrunner.FindBinary(p.cfg.ArpScanPath)
	res, err := procrunner.Run(ctx, scantool.ArpScanArgs(arpPath, h.IPAddress), timeout)
	if err == nil && res.ExitCode == 0 && strings.TrimSpace(res.Stdout) != "" {
		mac, vendor := scantool.ParseArpScanLine(res.Stdout, h.IPAddress)
		if mac != "" {
			h.LinkLayerID = mac
			h.Vendor = vendor
			return
		}
	}

	nmapPath := procrunner.FindBinary(p.cfg.NmapPath)
	res, err = procrunner.Run(ctx, scantool.ArpNmapFallbackArgs(nmapPath, h.IPAddress), timeout)
	if err != nil || res.ExitCode != 0 {
		return
	}
	fallbackHosts, parseErr := scantool.ParsePingSweepXML(res.Stdout)
	if parseErr != nil || len(fallbackHosts) == 0 {
		return
	}
	h.LinkLayerID = fallbackHosts[0].LinkLayerID
	h.Vendor = fallbackHosts[0].Vendor
}

// ── Stage 3: fast port scan ──────────────────────────────────────

func (p *Pipeline) stage3FastPortScan(ctx context.Context, hosts []jobmodel.DiscoveredHost, onProgress ProgressFunc) ([]jobmodel.DiscoveredHost, error) {
	if err := notify(onProgress, Progress{Stage: StageFastPortScan, Message: fmt.Sprintf("port scanning %d hosts", len(hosts)), Hosts: len(hosts)}); err != nil {
		return nil, err
	}

	concurrency := p.cfg.Stage3Concurrency
	timeout := time.Duration(p.cfg.Stage3TimeoutSec) * time.Second

	out := make([]jobmodel.DiscoveredHost, len(hosts))
	copy(out, hosts)

	var processed int32
	var mu sync.Mutex

	err := fanOut(ctx, len(out), concurrency, func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.fastPortScan(ctx, &out[i], timeout)

		mu.Lock()
		processed++
		n := processed
		mu.Unlock()
		if n%10 == 0 {
			if err := notify(onProgress, Progress{Stage: StageFastPortScan, Message: fmt.Sprintf("port scanned %d/%d hosts", n, len(out))}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	totalPorts := 0
	withPorts := 0
	for _, h := range out {
		totalPorts += len(h.OpenPorts)
		if len(h.OpenPorts) > 0 {
			withPorts++
		}
	}
	if err := notify(onProgress, Progress{Stage: StageFastPortScan, Message: fmt.Sprintf("%d open ports across %d/%d hosts", totalPorts, withPorts, len(out))}); err != nil {
		return nil, err
	}
	slog.Info("stage3 complete", "total_ports", totalPorts, "hosts_with_ports", withPorts)
	return out, nil
}

func (p *Pipeline) fastPortScan(ctx context.Context, h *jobmodel.DiscoveredHost, timeout time.Duration) {
	rustscanPath := procrunner.FindBinary(p.cfg.RustscanPath)
	res, err := procrunner.Run(ctx, scantool.RustscanArgs(rustscanPath, h.IPAddress), timeout)
	if err == nil && res.ExitCode == 0 {
		h.OpenPorts = scantool.ParseGreppablePorts(res.Stdout)
	}

	if len(h.OpenPorts) > 0 {
		return
	}

	nmapPath := procrunner.FindBinary(p.cfg.NmapPath)
	res, err = procrunner.Run(ctx, scantool.NmapPortScanFallbackArgs(nmapPath, h.IPAddress), timeout)
	if err != nil || res.ExitCode != 0 {
		return
	}
	ports, parseErr := scantool.ParseOpenPortsXML(res.Stdout)
	if parseErr != nil {
		slog.Warn("port scan fallback output did not parse", "ip", h.IPAddress, "error", parseErr)
		return
	}
	h.OpenPorts = ports
}

// ── Stage 4: deep scan ───────────────────────────────────────────

// surrogateLinkLayerID builds the identity used when a host's MAC
// never resolved, so skip-unchanged still has a stable key to compare
// against.
func surrogateLinkLayerID(ip string) string {
	return "00:00:" + firstEight(strings.ReplaceAll(ip, ".", ":"))
}

func firstEight(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

func (p *Pipeline) stage4DeepScan(ctx context.Context, hosts []jobmodel.DiscoveredHost, priorPortCounts map[string]int, onProgress ProgressFunc) ([]jobmodel.DiscoveredHost, error) {
	var candidates []int
	for i, h := range hosts {
		if len(h.OpenPorts) > 0 {
			candidates = append(candidates, i)
		}
	}

	var targets []int
	skipped := 0
	for _, i := range candidates {
		h := &hosts[i]
		identity := h.LinkLayerID
		if identity == "" {
			identity = surrogateLinkLayerID(h.IPAddress)
		}
		priorCount, known := priorPortCounts[identity]
		if known && priorCount > 0 && priorCount == len(h.OpenPorts) {
			h.Skipped = true
			skipped++
			metrics.SkippedDeepScanTotal.Inc()
			continue
		}
		targets = append(targets, i)
	}

	msg := fmt.Sprintf("deep scanning %d hosts", len(targets))
	if skipped > 0 {
		msg += fmt.Sprintf(" (%d skipped, unchanged port count)", skipped)
	}
	if err := notify(onProgress, Progress{Stage: StageDeepScan, Message: msg, Hosts: len(targets), Skipped: skipped}); err != nil {
		return nil, err
	}

	if len(targets) == 0 {
		if err := notify(onProgress, Progress{Stage: StageDeepScan, Message: "no hosts require deep scanning"}); err != nil {
			return nil, err
		}
		return hosts, nil
	}

	concurrency := p.cfg.Stage4Concurrency
	timeout := time.Duration(p.cfg.Stage4TimeoutSec) * time.Second

	err := fanOut(ctx, len(targets), concurrency, func(j int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.deepScan(ctx, &hosts[targets[j]], timeout)
		return nil
	})
	if err != nil {
		return nil, err
	}

	osCount := 0
	for _, h := range hosts {
		if h.OSName != "" {
			osCount++
		}
	}
	if err := notify(onProgress, Progress{Stage: StageDeepScan, Message: fmt.Sprintf("OS identified on %d/%d hosts", osCount, len(targets))}); err != nil {
		return nil, err
	}
	slog.Info("stage4 complete", "deep_scanned", len(targets), "os_identified", osCount)
	return hosts, nil
}

func (p *Pipeline) deepScan(ctx context.Context, h *jobmodel.DiscoveredHost, timeout time.Duration) {
	nmapPath := procrunner.FindBinary(p.cfg.NmapPath)
	sortedPorts := append([]int(nil), h.OpenPorts...)
	sort.Ints(sortedPorts)

	res, err := procrunner.Run(ctx, scantool.DeepScanArgs(nmapPath, h.IPAddress, sortedPorts), timeout)
	if err != nil {
		return
	}
	if res.ExitCode != 0 && res.Stdout == "" {
		slog.Warn("deep scan failed", "ip", h.IPAddress, "stderr", truncate(res.Stderr, 200))
		return
	}
	h.RawDeepScanXML = res.Stdout

	ports, osName, osFamily, osAccuracy, osCPE, parseErr := scantool.ParseDeepScanXML(res.Stdout)
	if parseErr != nil {
		slog.Error("deep scan output did not parse", "ip", h.IPAddress, "error", parseErr)
		return
	}
	h.Ports = ports
	h.OSName = osName
	h.OSFamily = osFamily
	h.OSAccuracy = osAccuracy
	h.OSCPE = osCPE
}

// fanOut runs fn(0..n-1) with at most concurrency goroutines in
// flight, stopping at the first error (typically ctx.Err() or
// jobserr.ErrCancelled raised by a progress hook) and returning it.
func fanOut(ctx context.Context, n, concurrency int, fn func(int) error) error {
	if n == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	errCh := make(chan error, n)
	stop := make(chan struct{})
	var stopOnce sync.Once
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		select {
		case <-stop:
			goto wait
		default:
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
			goto wait
		case <-stop:
			goto wait
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(idx); err != nil {
				errCh <- err
				stopOnce.Do(func() { close(stop) })
			}
		}(i)
	}
wait:
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
