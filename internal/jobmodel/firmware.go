package jobmodel

import "time"

// FirmwareStatus is the 10-state monotonic lifecycle of a firmware
// analysis job.
type FirmwareStatus string

const (
	FirmwarePending     FirmwareStatus = "pending"
	FirmwareDownloading FirmwareStatus = "downloading"
	FirmwareDownloaded  FirmwareStatus = "downloaded"
	FirmwareEmbaQueued  FirmwareStatus = "emba_queued"
	FirmwareEmbaRunning FirmwareStatus = "emba_running"
	FirmwareEmbaDone    FirmwareStatus = "emba_done"
	FirmwareTriaging    FirmwareStatus = "triaging"
	FirmwareCompleted   FirmwareStatus = "completed"
	FirmwareFailed      FirmwareStatus = "failed"
	FirmwareCancelled   FirmwareStatus = "cancelled"
)

// firmwareStatusOrder gives each status other than failed/cancelled its position in
// the monotonic progression, used to assert forward-only transitions.
var firmwareStatusOrder = map[FirmwareStatus]int{
	FirmwarePending:     0,
	FirmwareDownloading: 1,
	FirmwareDownloaded:  2,
	FirmwareEmbaQueued:  3,
	FirmwareEmbaRunning: 4,
	FirmwareEmbaDone:    5,
	FirmwareTriaging:    6,
	FirmwareCompleted:   7,
}

// Advances reports whether moving from s to next respects the
// monotonic ordering (terminal failure/cancel statuses are always
// reachable from any non-terminal state).
func (s FirmwareStatus) Advances(next FirmwareStatus) bool {
	if next == FirmwareFailed || next == FirmwareCancelled {
		return true
	}
	cur, curOK := firmwareStatusOrder[s]
	n, nOK := firmwareStatusOrder[next]
	return curOK && nOK && n >= cur
}

// FirmwareJob is the persistent record of one firmware analysis run.
type FirmwareJob struct {
	ID                string
	HostLinkLayerID   string
	Status            FirmwareStatus

	Stage      int // 0-3
	TotalStage int
	StageLabel string

	FirmwareURL       string
	FirmwareLocalPath string
	FirmwareHash      string
	FirmwareSize      int64

	AnalyzerLogDir string

	RiskReport     string
	RiskScore      *float64
	FindingsCount  int
	CriticalCount  int
	HighCount      int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	ErrorMessage string
}
