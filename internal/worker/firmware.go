package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/abhiramgcos/soc-netscan/internal/firmwarepipeline"
	"github.com/abhiramgcos/soc-netscan/internal/inventory"
	"github.com/abhiramgcos/soc-netscan/internal/jobmodel"
	"github.com/abhiramgcos/soc-netscan/internal/jobserr"
	"github.com/abhiramgcos/soc-netscan/internal/metrics"
	"github.com/abhiramgcos/soc-netscan/internal/substrate"
)

type firmwareProgressPayload struct {
	Type          string   `json:"type"`
	FirmwareID    string   `json:"firmware_id"`
	Stage         int      `json:"stage,omitempty"`
	StageLabel    string   `json:"stage_label,omitempty"`
	Message       string   `json:"message,omitempty"`
	RiskScore     *float64 `json:"risk_score,omitempty"`
	FindingsCount int      `json:"findings_count,omitempty"`
	Error         string   `json:"error,omitempty"`
}

func (w *Worker) processFirmware(ctx context.Context, analysisID string) {
	job, ok, err := w.firmwares.Get(ctx, analysisID)
	if err != nil {
		slog.Error("firmware load failed", "firmware_id", analysisID, "error", err)
		return
	}
	if !ok {
		slog.Error("firmware analysis not found", "firmware_id", analysisID)
		return
	}
	if job.Status == jobmodel.FirmwareCancelled {
		slog.Info("firmware analysis already cancelled", "firmware_id", analysisID)
		return
	}

	host, ok, err := w.inv.GetHost(ctx, job.HostLinkLayerID)
	if err != nil {
		w.failFirmware(ctx, job, fmt.Errorf("%w: %v", jobserr.ErrDatastoreUnavailable, err))
		return
	}
	if !ok {
		w.failFirmware(ctx, job, fmt.Errorf("%w: unknown host %s", jobserr.ErrProgrammer, job.HostLinkLayerID))
		return
	}

	target := firmwarepipeline.Target{
		IPAddress:   host.IPAddress,
		LinkLayerID: host.LinkLayerID,
		Vendor:      host.Vendor,
		PortsLabel:  w.portsLabel(ctx, host.LinkLayerID),
		FirmwareURL: job.FirmwareURL,
	}

	started := now()
	job.StartedAt = &started
	if err := w.firmwares.Save(ctx, job); err != nil {
		slog.Error("firmware save failed", "firmware_id", analysisID, "error", err)
		return
	}

	shortID := analysisID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}

	onUpdate := func(update firmwarepipeline.StageUpdate) error {
		if cancelled, cerr := w.sub.IsCancelled(ctx, substrate.KindFirmware, analysisID); cerr == nil && cancelled {
			return jobserr.ErrCancelled
		}

		job.Stage = update.Stage
		job.StageLabel = update.StageLabel
		job.Status = update.Status

		fwUpdate := inventory.FirmwareUpdate{FirmwareStatus: string(update.Status)}
		if update.Download != nil {
			job.FirmwareLocalPath = update.Download.LocalPath
			job.FirmwareHash = update.Download.SHA256Hex
			job.FirmwareSize = update.Download.SizeBytes
			fwUpdate.FirmwareLocalPath = update.Download.LocalPath
			fwUpdate.FirmwareHash = update.Download.SHA256Hex
		}
		if update.LogDir != "" {
			job.AnalyzerLogDir = update.LogDir
			fwUpdate.AnalyzerLogDir = update.LogDir
		}
		if update.Triage != nil {
			job.RiskReport = update.Triage.Report
			job.RiskScore = update.Triage.RiskScore
			job.FindingsCount = update.Triage.FindingsCount
			job.CriticalCount = update.Triage.CriticalCount
			job.HighCount = update.Triage.HighCount
			fwUpdate.TriageReport = update.Triage.Report
			fwUpdate.RiskScore = update.Triage.RiskScore
		}

		if err := w.firmwares.Save(ctx, job); err != nil {
			slog.Warn("firmware progress save failed", "firmware_id", analysisID, "error", err)
		}
		if err := w.inv.UpdateFirmwareFields(ctx, job.HostLinkLayerID, fwUpdate); err != nil {
			slog.Warn("firmware field mirror failed", "firmware_id", analysisID, "error", err)
		}

		payload, _ := json.Marshal(firmwareProgressPayload{
			Type: "firmware_progress", FirmwareID: analysisID, Stage: update.Stage,
			StageLabel: update.StageLabel, Message: update.Message,
		})
		return w.sub.PublishProgress(ctx, substrate.KindFirmware, analysisID, payload)
	}

	err = w.fwPipeline.Run(ctx, shortID, target, onUpdate)
	if err != nil {
		if errors.Is(err, jobserr.ErrCancelled) {
			w.cancelFirmware(ctx, job)
			return
		}
		w.failFirmware(ctx, job, err)
		return
	}

	completed := now()
	job.Status = jobmodel.FirmwareCompleted
	job.CompletedAt = &completed
	if err := w.firmwares.Save(ctx, job); err != nil {
		slog.Error("firmware completion save failed", "firmware_id", analysisID, "error", err)
	}

	payload, _ := json.Marshal(firmwareProgressPayload{
		Type: "firmware_completed", FirmwareID: analysisID, RiskScore: job.RiskScore, FindingsCount: job.FindingsCount,
	})
	if err := w.sub.PublishProgress(ctx, substrate.KindFirmware, analysisID, payload); err != nil {
		slog.Warn("firmware completed publish failed", "firmware_id", analysisID, "error", err)
	}
	metrics.JobsCompletedTotal.WithLabelValues("firmware", "completed").Inc()
	slog.Info("firmware analysis completed", "firmware_id", analysisID, "findings", job.FindingsCount)
}

func (w *Worker) portsLabel(ctx context.Context, linkLayerID string) string {
	ports, err := w.inv.GetPorts(ctx, linkLayerID)
	if err != nil || len(ports) == 0 {
		return ""
	}
	labels := make([]string, 0, len(ports))
	for _, p := range ports {
		labels = append(labels, strconv.Itoa(p.Number))
	}
	return strings.Join(labels, ", ")
}

func (w *Worker) cancelFirmware(ctx context.Context, job jobmodel.FirmwareJob) {
	completed := now()
	job.Status = jobmodel.FirmwareCancelled
	job.CompletedAt = &completed
	if err := w.firmwares.Save(ctx, job); err != nil {
		slog.Error("firmware cancel save failed", "firmware_id", job.ID, "error", err)
	}
	if err := w.sub.ClearCancel(ctx, substrate.KindFirmware, job.ID); err != nil {
		slog.Warn("clear cancel failed", "firmware_id", job.ID, "error", err)
	}

	payload, _ := json.Marshal(firmwareProgressPayload{Type: "firmware_cancelled", FirmwareID: job.ID})
	if err := w.sub.PublishProgress(ctx, substrate.KindFirmware, job.ID, payload); err != nil {
		slog.Warn("firmware cancelled publish failed", "firmware_id", job.ID, "error", err)
	}
	metrics.JobsCompletedTotal.WithLabelValues("firmware", "cancelled").Inc()
	slog.Info("firmware analysis cancelled", "firmware_id", job.ID)
}

func (w *Worker) failFirmware(ctx context.Context, job jobmodel.FirmwareJob, cause error) {
	msg := truncate(cause.Error(), 2000)
	completed := now()
	job.Status = jobmodel.FirmwareFailed
	job.CompletedAt = &completed
	job.ErrorMessage = msg
	if err := w.firmwares.Save(ctx, job); err != nil {
		slog.Error("firmware fail save failed", "firmware_id", job.ID, "error", err)
	}

	payload, _ := json.Marshal(firmwareProgressPayload{Type: "firmware_failed", FirmwareID: job.ID, Error: truncate(cause.Error(), 500)})
	if err := w.sub.PublishProgress(ctx, substrate.KindFirmware, job.ID, payload); err != nil {
		slog.Warn("firmware failed publish failed", "firmware_id", job.ID, "error", err)
	}
	metrics.JobsCompletedTotal.WithLabelValues("firmware", "failed").Inc()
	slog.Error("firmware analysis failed", "firmware_id", job.ID, "error", cause)
}
