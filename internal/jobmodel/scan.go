// Package jobmodel defines the shared data types passed between the
// scheduler substrate, the pipelines, and the inventory store.
package jobmodel

import "time"

// ScanKind enumerates the accepted target expression shapes.
type ScanKind string

const (
	ScanKindSingleHost ScanKind = "single_host"
	ScanKindSubnet     ScanKind = "subnet"
	ScanKindRange      ScanKind = "range"
	ScanKindCustom     ScanKind = "custom"
)

// ScanStatus is the monotonic lifecycle of a scan job.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCancelled ScanStatus = "cancelled"
)

// ScanJob is the persistent record of one scan request.
type ScanJob struct {
	ID     string
	Target string
	Kind   ScanKind
	Status ScanStatus

	CurrentStage int
	TotalStages  int
	StageLabel   string

	HostsDiscovered int
	LiveHosts       int
	OpenPortsFound  int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	ErrorMessage string
}

// LogSeverity is the severity of a ScanLogEntry.
type LogSeverity string

const (
	SeverityInfo    LogSeverity = "info"
	SeverityWarning LogSeverity = "warning"
	SeverityError   LogSeverity = "error"
)

// ScanLogEntry is one append-only audit line for a scan job.
type ScanLogEntry struct {
	JobID     string
	Stage     int
	Severity  LogSeverity
	Message   string
	Timestamp time.Time
}

// Port describes one observed or persisted TCP port.
type Port struct {
	Number      int
	Protocol    string
	State       string
	Service     string
	Product     string
	Version     string
	Extra       string
	CPE         string
	Banner      string
	Script      string
	DiscoveredAt time.Time
}

// DiscoveredHost is the in-flight value object threaded through the
// scan pipeline's stages. It never outlives one pipeline run.
type DiscoveredHost struct {
	IPAddress   string
	LinkLayerID string // MAC, empty until stage 2 resolves it
	Vendor      string
	Hostname    string
	Live        bool
	RTTMillis   float64

	OpenPorts []int
	Ports     []Port

	OSName     string
	OSFamily   string
	OSAccuracy int
	OSCPE      string

	RawDeepScanXML string

	// Skipped marks a host that skip-unchanged left untouched at stage 4;
	// its Ports/OS fields stay empty (they are not reloaded from the
	// inventory), so on persist the inventory keeps the host's prior OS
	// fields and its port rows are rebuilt from OpenPorts alone.
	Skipped bool
}

// InventoriedHost is the persistent, MAC-keyed record of a device.
type InventoriedHost struct {
	LinkLayerID string
	IPAddress   string
	Vendor      string
	Hostname    string

	OSName     string
	OSFamily   string
	OSAccuracy int
	OSCPE      string

	OpenPortCount int

	LastScanID string
	DiscoveredAt time.Time
	LastSeen     time.Time

	FirmwareURL       string
	FirmwareLocalPath string
	FirmwareHash      string
	AnalyzerLogDir    string
	TriageReport      string
	RiskScore         *float64
	FirmwareStatus    string
}

// Tag is a many-to-many label attachable to inventoried hosts.
type Tag struct {
	Name        string
	Color       string
	Description string
}
