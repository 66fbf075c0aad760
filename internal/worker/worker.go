// Package worker implements the Worker Loop: it dequeues scan and
// firmware job IDs from the scheduler substrate, runs the matching
// pipeline, persists results through the inventory and job stores, and
// publishes progress/terminal events. Grounded on worker/main.py's
// worker_loop/_process_scan/_persist_results, with the active-task
// bookkeeping of firestige-Otus's internal/task.TaskManager reduced to
// a sync.WaitGroup that counts in-flight jobs.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/serialx/hashring"

	"github.com/abhiramgcos/soc-netscan/internal/config"
	"github.com/abhiramgcos/soc-netscan/internal/firmwarepipeline"
	"github.com/abhiramgcos/soc-netscan/internal/inventory"
	"github.com/abhiramgcos/soc-netscan/internal/jobmodel"
	"github.com/abhiramgcos/soc-netscan/internal/jobserr"
	"github.com/abhiramgcos/soc-netscan/internal/jobstore"
	"github.com/abhiramgcos/soc-netscan/internal/metrics"
	"github.com/abhiramgcos/soc-netscan/internal/scanpipeline"
	"github.com/abhiramgcos/soc-netscan/internal/substrate"
)

// Worker ties the scheduler substrate, the two pipelines, and the
// persistence stores together into the dequeue/dispatch loop.
type Worker struct {
	cfg config.WorkerConfig

	sub       *substrate.Substrate
	scans     jobstore.ScanStore
	firmwares jobstore.FirmwareStore
	inv       inventory.Store

	scanPipeline *scanpipeline.Pipeline
	fwPipeline   *firmwarepipeline.Pipeline

	nodeID string
	ring   *hashring.HashRing // nil when cfg.Peers is empty: this node claims every job

	active sync.WaitGroup
}

// New constructs a Worker. nodeID identifies this instance within
// cfg.Peers for consistent-hash job partitioning; it is ignored when
// cfg.Peers is empty.
func New(
	cfg config.WorkerConfig,
	nodeID string,
	sub *substrate.Substrate,
	scans jobstore.ScanStore,
	firmwares jobstore.FirmwareStore,
	inv inventory.Store,
	scanPipeline *scanpipeline.Pipeline,
	fwPipeline *firmwarepipeline.Pipeline,
) *Worker {
	w := &Worker{
		cfg: cfg, sub: sub, scans: scans, firmwares: firmwares, inv: inv,
		scanPipeline: scanPipeline, fwPipeline: fwPipeline, nodeID: nodeID,
	}
	if len(cfg.Peers) > 0 {
		w.ring = hashring.New(cfg.Peers)
	}
	return w
}

func (w *Worker) dequeueTimeout() time.Duration {
	if w.cfg.DequeueTimeoutSec <= 0 {
		return 2 * time.Second
	}
	return time.Duration(w.cfg.DequeueTimeoutSec) * time.Second
}

// claims reports whether this node owns jobID under the configured
// consistent-hash partitioning. With no peer set configured every job
// is claimed.
func (w *Worker) claims(jobID string) bool {
	if w.ring == nil {
		return true
	}
	node, ok := w.ring.GetNode(jobID)
	return ok && node == w.nodeID
}

// Run starts the scan and firmware dequeue loops and blocks until ctx
// is cancelled, waiting for in-flight jobs to finish unwinding.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.loop(ctx, substrate.KindScan, w.processScan)
	}()
	go func() {
		defer wg.Done()
		w.loop(ctx, substrate.KindFirmware, w.processFirmware)
	}()
	wg.Wait()
	w.active.Wait()
}

func (w *Worker) loop(ctx context.Context, kind substrate.Kind, process func(context.Context, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, err := w.dequeueOnce(ctx, kind)
		if err != nil {
			slog.Error("worker loop error", "kind", kind, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if id == "" {
			continue
		}
		if !w.claims(id) {
			// Not this node's job under the configured partitioning;
			// put it back for the owning peer to pick up.
			if err := w.sub.Enqueue(ctx, kind, id); err != nil {
				slog.Error("failed to requeue unclaimed job", "kind", kind, "id", id, "error", err)
			}
			continue
		}

		slog.Info("job dequeued", "kind", kind, "id", id)
		metrics.JobsActive.WithLabelValues(string(kind)).Inc()
		w.active.Add(1)
		go func() {
			defer w.active.Done()
			defer metrics.JobsActive.WithLabelValues(string(kind)).Dec()
			process(ctx, id)
		}()
	}
}

func (w *Worker) dequeueOnce(ctx context.Context, kind substrate.Kind) (string, error) {
	return w.sub.Dequeue(ctx, kind, w.dequeueTimeout())
}

func surrogateLinkLayerID(ip string) string {
	id := "00:00:"
	for _, b := range []byte(ip) {
		if b == '.' {
			id += ":"
		} else {
			id += string(b)
		}
		if len(id) >= len("00:00:")+8 {
			break
		}
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func now() time.Time { return time.Now().UTC() }
