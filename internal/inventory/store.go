// Package inventory is the persistent device store: the MAC-keyed
// host records, their ports, and the append-only scan log. Grounded
// on worker/main.py's _persist_results/_load_existing_hosts (the
// "new value or prior value" field-preservation pattern on upsert)
// and firmware_pipeline.py's _update_host_firmware.
package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/abhiramgcos/soc-netscan/internal/jobmodel"
)

// Store is the contract the pipelines and worker loop use to persist
// discovered hosts, their ports, and scan logs, and to read back the
// prior port counts needed for the stage-4 skip-unchanged
// optimization. Implementations must be safe for concurrent use.
type Store interface {
	// LoadPriorPortCounts returns link-layer-ID -> last-recorded open
	// port count, across all known hosts.
	LoadPriorPortCounts(ctx context.Context) (map[string]int, error)

	// UpsertHost creates or updates the host identified by
	// dh.LinkLayerID (or its surrogate). Fields dh leaves zero-valued
	// keep the host's previously recorded value; non-zero fields
	// always win. The IP address and the open-port count
	// (len(dh.OpenPorts)) are always overwritten.
	UpsertHost(ctx context.Context, scanID string, dh jobmodel.DiscoveredHost) error

	// ReplacePorts discards a host's previously recorded ports and
	// stores ports in their place.
	ReplacePorts(ctx context.Context, linkLayerID string, ports []jobmodel.Port) error

	// AppendScanLog records one audit-log line for a scan.
	AppendScanLog(ctx context.Context, entry jobmodel.ScanLogEntry) error

	// GetHost returns the current record for linkLayerID, or ok=false
	// if it is not known.
	GetHost(ctx context.Context, linkLayerID string) (jobmodel.InventoriedHost, bool, error)

	// GetPorts returns the ports last recorded for linkLayerID via
	// ReplacePorts, or an empty slice if none are known.
	GetPorts(ctx context.Context, linkLayerID string) ([]jobmodel.Port, error)

	// UpdateFirmwareFields merges non-zero fields of update into the
	// host's firmware-related columns.
	UpdateFirmwareFields(ctx context.Context, linkLayerID string, update FirmwareUpdate) error
}

// FirmwareUpdate carries the firmware-pipeline fields mirrored onto a
// host record between pipeline stages. A nil/zero field is left
// untouched.
type FirmwareUpdate struct {
	FirmwareURL       string
	FirmwareLocalPath string
	FirmwareHash      string
	AnalyzerLogDir    string
	TriageReport      string
	RiskScore         *float64
	FirmwareStatus    string
}

// MemoryStore is an in-process reference Store implementation, used
// by tests and by single-node deployments that don't need the
// datastore to survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	hosts map[string]*jobmodel.InventoriedHost
	ports map[string][]jobmodel.Port
	logs  []jobmodel.ScanLogEntry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hosts: make(map[string]*jobmodel.InventoriedHost),
		ports: make(map[string][]jobmodel.Port),
	}
}

func (s *MemoryStore) LoadPriorPortCounts(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.hosts))
	for mac, h := range s.hosts {
		out[mac] = h.OpenPortCount
	}
	return out, nil
}

func (s *MemoryStore) UpsertHost(ctx context.Context, scanID string, dh jobmodel.DiscoveredHost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity := dh.LinkLayerID
	if identity == "" {
		identity = surrogateLinkLayerID(dh.IPAddress)
	}

	host, exists := s.hosts[identity]
	if !exists {
		host = &jobmodel.InventoriedHost{LinkLayerID: identity, DiscoveredAt: now()}
		s.hosts[identity] = host
	}

	host.IPAddress = dh.IPAddress
	host.Vendor = orString(dh.Vendor, host.Vendor)
	host.Hostname = orString(dh.Hostname, host.Hostname)
	host.OSName = orString(dh.OSName, host.OSName)
	host.OSFamily = orString(dh.OSFamily, host.OSFamily)
	if dh.OSAccuracy != 0 {
		host.OSAccuracy = dh.OSAccuracy
	}
	host.OSCPE = orString(dh.OSCPE, host.OSCPE)
	host.OpenPortCount = len(dh.OpenPorts)
	host.LastScanID = scanID
	host.LastSeen = now()

	return nil
}

func (s *MemoryStore) ReplacePorts(ctx context.Context, linkLayerID string, ports []jobmodel.Port) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[linkLayerID] = append([]jobmodel.Port(nil), ports...)
	return nil
}

func (s *MemoryStore) GetPorts(ctx context.Context, linkLayerID string) ([]jobmodel.Port, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]jobmodel.Port(nil), s.ports[linkLayerID]...), nil
}

func (s *MemoryStore) AppendScanLog(ctx context.Context, entry jobmodel.ScanLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *MemoryStore) GetHost(ctx context.Context, linkLayerID string) (jobmodel.InventoriedHost, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	host, ok := s.hosts[linkLayerID]
	if !ok {
		return jobmodel.InventoriedHost{}, false, nil
	}
	return *host, true, nil
}

func (s *MemoryStore) UpdateFirmwareFields(ctx context.Context, linkLayerID string, update FirmwareUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	host, ok := s.hosts[linkLayerID]
	if !ok {
		host = &jobmodel.InventoriedHost{LinkLayerID: linkLayerID, DiscoveredAt: now()}
		s.hosts[linkLayerID] = host
	}
	host.FirmwareURL = orString(update.FirmwareURL, host.FirmwareURL)
	host.FirmwareLocalPath = orString(update.FirmwareLocalPath, host.FirmwareLocalPath)
	host.FirmwareHash = orString(update.FirmwareHash, host.FirmwareHash)
	host.AnalyzerLogDir = orString(update.AnalyzerLogDir, host.AnalyzerLogDir)
	host.TriageReport = orString(update.TriageReport, host.TriageReport)
	if update.RiskScore != nil {
		host.RiskScore = update.RiskScore
	}
	host.FirmwareStatus = orString(update.FirmwareStatus, host.FirmwareStatus)
	return nil
}

// ScanLogs returns a copy of every appended log entry, newest last.
// Test-only accessor; production callers query the log through
// whatever API layer wraps the Store.
func (s *MemoryStore) ScanLogs() []jobmodel.ScanLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]jobmodel.ScanLogEntry(nil), s.logs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func orString(fresh, prior string) string {
	if fresh != "" {
		return fresh
	}
	return prior
}

func surrogateLinkLayerID(ip string) string {
	out := []byte(ip)
	replaced := make([]byte, 0, len(out))
	for _, b := range out {
		if b == '.' {
			replaced = append(replaced, ':')
		} else {
			replaced = append(replaced, b)
		}
	}
	s := string(replaced)
	if len(s) > 8 {
		s = s[:8]
	}
	return "00:00:" + s
}

func now() time.Time { return time.Now().UTC() }
