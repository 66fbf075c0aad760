package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/abhiramgcos/soc-netscan/internal/jobmodel"
	"github.com/abhiramgcos/soc-netscan/internal/jobserr"
	"github.com/abhiramgcos/soc-netscan/internal/metrics"
	"github.com/abhiramgcos/soc-netscan/internal/scanpipeline"
	"github.com/abhiramgcos/soc-netscan/internal/substrate"
)

type scanProgressPayload struct {
	Type       string `json:"type"`
	ScanID     string `json:"scan_id"`
	Stage      int    `json:"stage,omitempty"`
	StageLabel string `json:"stage_label,omitempty"`
	Message    string `json:"message,omitempty"`
	Hosts      int    `json:"hosts,omitempty"`
	Ports      int    `json:"ports,omitempty"`
	Error      string `json:"error,omitempty"`
}

var scanStageLabels = []string{"Ping Sweep", "ARP MAC Lookup", "Port Scanning", "Deep Scan (SYN + Version + Scripts + OS)"}

func (w *Worker) processScan(ctx context.Context, scanID string) {
	job, ok, err := w.scans.Get(ctx, scanID)
	if err != nil {
		slog.Error("scan load failed", "scan_id", scanID, "error", err)
		return
	}
	if !ok {
		slog.Error("scan not found", "scan_id", scanID)
		return
	}
	if job.Status == jobmodel.ScanCancelled {
		slog.Info("scan already cancelled", "scan_id", scanID)
		return
	}

	priorCounts, err := w.inv.LoadPriorPortCounts(ctx)
	if err != nil {
		w.failScan(ctx, job, fmt.Errorf("%w: %v", jobserr.ErrDatastoreUnavailable, err))
		return
	}

	started := now()
	job.Status = jobmodel.ScanRunning
	job.StartedAt = &started
	job.CurrentStage = 0
	if err := w.scans.Save(ctx, job); err != nil {
		slog.Error("scan save failed", "scan_id", scanID, "error", err)
		return
	}

	onProgress := func(pr scanpipeline.Progress) error {
		if cancelled, cerr := w.sub.IsCancelled(ctx, substrate.KindScan, scanID); cerr == nil && cancelled {
			return jobserr.ErrCancelled
		}

		stage := int(pr.Stage)
		job.CurrentStage = stage
		job.StageLabel = scanStageLabels[stage-1]
		if err := w.scans.Save(ctx, job); err != nil {
			slog.Warn("scan progress save failed", "scan_id", scanID, "error", err)
		}
		if err := w.inv.AppendScanLog(ctx, jobmodel.ScanLogEntry{
			JobID: scanID, Stage: stage, Severity: jobmodel.SeverityInfo, Message: pr.Message, Timestamp: now(),
		}); err != nil {
			slog.Warn("scan log append failed", "scan_id", scanID, "error", err)
		}

		payload, _ := json.Marshal(scanProgressPayload{
			Type: "scan_progress", ScanID: scanID, Stage: stage, StageLabel: job.StageLabel,
			Message: pr.Message, Hosts: pr.Hosts,
		})
		return w.sub.PublishProgress(ctx, substrate.KindScan, scanID, payload)
	}

	hosts, err := w.scanPipeline.Run(ctx, job.Target, priorCounts, onProgress)
	if err != nil {
		if errors.Is(err, jobserr.ErrCancelled) {
			w.cancelScan(ctx, job)
			return
		}
		w.failScan(ctx, job, err)
		return
	}

	totalPorts, liveHosts := w.persistScanResults(ctx, scanID, hosts)

	completed := now()
	job.Status = jobmodel.ScanCompleted
	job.CompletedAt = &completed
	job.CurrentStage = 4
	job.StageLabel = "Completed"
	job.HostsDiscovered = len(hosts)
	job.LiveHosts = liveHosts
	job.OpenPortsFound = totalPorts
	if err := w.scans.Save(ctx, job); err != nil {
		slog.Error("scan completion save failed", "scan_id", scanID, "error", err)
	}
	_ = w.inv.AppendScanLog(ctx, jobmodel.ScanLogEntry{
		JobID: scanID, Stage: 4, Severity: jobmodel.SeverityInfo,
		Message: fmt.Sprintf("scan completed: %d hosts, %d ports", len(hosts), totalPorts), Timestamp: now(),
	})
	metrics.JobsCompletedTotal.WithLabelValues("scan", "completed").Inc()
	metrics.HostsDiscoveredTotal.WithLabelValues().Add(float64(len(hosts)))

	payload, _ := json.Marshal(scanProgressPayload{Type: "scan_completed", ScanID: scanID, Hosts: len(hosts), Ports: totalPorts})
	if err := w.sub.PublishProgress(ctx, substrate.KindScan, scanID, payload); err != nil {
		slog.Warn("scan completed publish failed", "scan_id", scanID, "error", err)
	}
	slog.Info("scan completed", "scan_id", scanID, "hosts", len(hosts), "ports", totalPorts)
}

func (w *Worker) persistScanResults(ctx context.Context, scanID string, hosts []jobmodel.DiscoveredHost) (totalPorts, liveHosts int) {
	for _, dh := range hosts {
		if dh.Live {
			liveHosts++
		}
		if err := w.inv.UpsertHost(ctx, scanID, dh); err != nil {
			slog.Warn("host upsert failed", "scan_id", scanID, "ip", dh.IPAddress, "error", err)
			continue
		}
		identity := dh.LinkLayerID
		if identity == "" {
			identity = surrogateLinkLayerID(dh.IPAddress)
		}
		ports := dh.Ports
		if len(ports) == 0 && len(dh.OpenPorts) > 0 {
			ports = make([]jobmodel.Port, 0, len(dh.OpenPorts))
			for _, p := range dh.OpenPorts {
				ports = append(ports, jobmodel.Port{Number: p, Protocol: "tcp", State: "open"})
			}
		}
		if err := w.inv.ReplacePorts(ctx, identity, ports); err != nil {
			slog.Warn("port replace failed", "scan_id", scanID, "ip", dh.IPAddress, "error", err)
		}
		totalPorts += len(ports)
	}
	return totalPorts, liveHosts
}

func (w *Worker) cancelScan(ctx context.Context, job jobmodel.ScanJob) {
	completed := now()
	job.Status = jobmodel.ScanCancelled
	job.CompletedAt = &completed
	if err := w.scans.Save(ctx, job); err != nil {
		slog.Error("scan cancel save failed", "scan_id", job.ID, "error", err)
	}
	_ = w.inv.AppendScanLog(ctx, jobmodel.ScanLogEntry{
		JobID: job.ID, Stage: job.CurrentStage, Severity: jobmodel.SeverityWarning,
		Message: "scan cancelled by user", Timestamp: now(),
	})
	if err := w.sub.ClearCancel(ctx, substrate.KindScan, job.ID); err != nil {
		slog.Warn("clear cancel failed", "scan_id", job.ID, "error", err)
	}

	payload, _ := json.Marshal(scanProgressPayload{Type: "scan_cancelled", ScanID: job.ID})
	if err := w.sub.PublishProgress(ctx, substrate.KindScan, job.ID, payload); err != nil {
		slog.Warn("scan cancelled publish failed", "scan_id", job.ID, "error", err)
	}
	metrics.JobsCompletedTotal.WithLabelValues("scan", "cancelled").Inc()
	slog.Info("scan cancelled", "scan_id", job.ID)
}

func (w *Worker) failScan(ctx context.Context, job jobmodel.ScanJob, cause error) {
	msg := truncate(cause.Error(), 2000)
	completed := now()
	job.Status = jobmodel.ScanFailed
	job.CompletedAt = &completed
	job.ErrorMessage = msg
	if err := w.scans.Save(ctx, job); err != nil {
		slog.Error("scan fail save failed", "scan_id", job.ID, "error", err)
	}
	_ = w.inv.AppendScanLog(ctx, jobmodel.ScanLogEntry{
		JobID: job.ID, Stage: job.CurrentStage, Severity: jobmodel.SeverityError,
		Message: "scan failed: " + msg, Timestamp: now(),
	})

	payload, _ := json.Marshal(scanProgressPayload{Type: "scan_failed", ScanID: job.ID, Error: truncate(cause.Error(), 500)})
	if err := w.sub.PublishProgress(ctx, substrate.KindScan, job.ID, payload); err != nil {
		slog.Warn("scan failed publish failed", "scan_id", job.ID, "error", err)
	}
	metrics.JobsCompletedTotal.WithLabelValues("scan", "failed").Inc()
	slog.Error("scan failed", "scan_id", job.ID, "error", cause)
}
