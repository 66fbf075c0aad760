// Package firmwarepipeline runs the three-stage firmware assessment:
// download, analyzer, triage. Grounded on firmware_pipeline.py's
// run_firmware_pipeline, generalized from its per-stage DB
// read/persist pattern into a state machine driven by a
// StageUpdateFunc callback between stages.
package firmwarepipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abhiramgcos/soc-netscan/internal/config"
	"github.com/abhiramgcos/soc-netscan/internal/firmware"
	"github.com/abhiramgcos/soc-netscan/internal/jobmodel"
	"github.com/abhiramgcos/soc-netscan/internal/jobserr"
	"github.com/abhiramgcos/soc-netscan/internal/metrics"
)

var stageLabels = []string{"Downloading Firmware", "Running Analyzer", "AI Triage & Risk Scoring"}

// StageUpdate is delivered between stages and at completion, mirroring
// onto the caller's persisted job and host records.
type StageUpdate struct {
	Stage      int
	StageLabel string
	Status     jobmodel.FirmwareStatus
	Message    string

	// Populated once the corresponding stage finishes.
	Download *firmware.DownloadResult
	LogDir   string
	Triage   *firmware.TriageResult
}

// StageUpdateFunc persists a StageUpdate and checks cancellation.
// Returning jobserr.ErrCancelled aborts the run with a cancelled
// outcome rather than a failure.
type StageUpdateFunc func(StageUpdate) error

// Target carries the information the pipeline needs about the device
// under analysis; it is supplied by the worker loop from the
// inventory store.
type Target struct {
	IPAddress   string
	LinkLayerID string
	Vendor      string
	PortsLabel  string // e.g. "22, 80, 443" — precomputed by the caller
	FirmwareURL string
}

// Pipeline runs the three firmware stages against one Target.
type Pipeline struct {
	downloader *firmware.Downloader
	analyzer   *firmware.Analyzer
	triager    *firmware.Triager
}

// New constructs a Pipeline bound to firmware configuration.
func New(cfg config.FirmwareConfig) (*Pipeline, error) {
	dl, err := firmware.NewDownloader(cfg.DownloadDir)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		downloader: dl,
		analyzer:   firmware.NewAnalyzer(cfg),
		triager:    firmware.NewTriager(cfg),
	}, nil
}

// Run executes all three stages. shortJobID names the analyzer's log
// directory (first 8 characters of the job ID, matching the source's
// device_<id[:8]>_<ip> convention).
func (p *Pipeline) Run(ctx context.Context, shortJobID string, target Target, onUpdate StageUpdateFunc) error {
	if target.FirmwareURL == "" {
		return fmt.Errorf("%w: no firmware URL configured for device %s", jobserr.ErrProgrammer, target.LinkLayerID)
	}

	if err := notify(onUpdate, StageUpdate{Stage: 1, StageLabel: stageLabels[0], Status: jobmodel.FirmwareDownloading, Message: fmt.Sprintf("starting firmware pipeline for %s (%s)", target.IPAddress, target.LinkLayerID)}); err != nil {
		return err
	}

	stageStart := time.Now()
	dl, err := p.downloader.Download(ctx, target.FirmwareURL, target.IPAddress, target.LinkLayerID, nil)
	metrics.StageDurationSeconds.WithLabelValues("firmware", "download").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return err
	}
	if err := notify(onUpdate, StageUpdate{
		Stage: 1, StageLabel: "Firmware Downloaded", Status: jobmodel.FirmwareDownloaded,
		Message:  fmt.Sprintf("firmware downloaded: %d bytes", dl.SizeBytes),
		Download: &dl,
	}); err != nil {
		return err
	}

	if err := notify(onUpdate, StageUpdate{Stage: 2, StageLabel: stageLabels[1], Status: jobmodel.FirmwareEmbaRunning, Message: fmt.Sprintf("starting analyzer scan on %s", dl.LocalPath)}); err != nil {
		return err
	}

	stageStart = time.Now()
	logDir, err := p.analyzer.Run(ctx, dl.LocalPath, shortJobID, target.IPAddress, nil)
	metrics.StageDurationSeconds.WithLabelValues("firmware", "analyzer").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return err
	}
	if err := notify(onUpdate, StageUpdate{
		Stage: 2, StageLabel: "Analyzer Scan Complete", Status: jobmodel.FirmwareEmbaDone,
		Message: fmt.Sprintf("analyzer scan complete for %s", target.IPAddress),
		LogDir:  logDir,
	}); err != nil {
		return err
	}

	if err := notify(onUpdate, StageUpdate{Stage: 3, StageLabel: stageLabels[2], Status: jobmodel.FirmwareTriaging, Message: fmt.Sprintf("running AI triage for %s", target.IPAddress)}); err != nil {
		return err
	}

	stageStart = time.Now()
	triageResult, err := p.triager.Run(ctx, logDir, target.IPAddress, target.Vendor, target.PortsLabel, target.LinkLayerID, nil)
	metrics.StageDurationSeconds.WithLabelValues("firmware", "triage").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return err
	}

	scoreMsg := "unknown"
	if triageResult.RiskScore != nil {
		scoreMsg = fmt.Sprintf("%.1f", *triageResult.RiskScore)
	}
	return notify(onUpdate, StageUpdate{
		Stage: 3, StageLabel: "Completed", Status: jobmodel.FirmwareCompleted,
		Message: fmt.Sprintf("firmware analysis complete for %s — risk %s/10, %d findings", target.IPAddress, scoreMsg, triageResult.FindingsCount),
		Triage:  &triageResult,
	})
}

func notify(onUpdate StageUpdateFunc, update StageUpdate) error {
	if onUpdate == nil {
		return nil
	}
	if err := onUpdate(update); err != nil {
		if errors.Is(err, jobserr.ErrCancelled) {
			return err
		}
		return fmt.Errorf("%w: %v", jobserr.ErrDatastoreUnavailable, err)
	}
	return nil
}
