package worker

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhiramgcos/soc-netscan/internal/config"
	"github.com/abhiramgcos/soc-netscan/internal/inventory"
	"github.com/abhiramgcos/soc-netscan/internal/jobmodel"
	"github.com/abhiramgcos/soc-netscan/internal/jobstore"
	"github.com/abhiramgcos/soc-netscan/internal/substrate"
)

func newTestWorker(t *testing.T) (*Worker, *jobstore.MemoryScanStore, *jobstore.MemoryFirmwareStore, *inventory.MemoryStore) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := substrate.NewFromClient(client)
	scans := jobstore.NewMemoryScanStore()
	firmwares := jobstore.NewMemoryFirmwareStore()
	inv := inventory.NewMemoryStore()

	w := New(config.WorkerConfig{}, "node-a", sub, scans, firmwares, inv, nil, nil)
	return w, scans, firmwares, inv
}

func TestClaimsWithNoPeersAlwaysTrue(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	assert.True(t, w.claims("any-job-id"))
}

func TestClaimsPartitionsExhaustivelyAcrossPeers(t *testing.T) {
	cfg := config.WorkerConfig{Peers: []string{"node-a", "node-b"}}
	wa := New(cfg, "node-a", nil, nil, nil, nil, nil, nil)
	wb := New(cfg, "node-b", nil, nil, nil, nil, nil, nil)

	for i := 0; i < 50; i++ {
		id := "job-" + strconv.Itoa(i)
		claimedByA := wa.claims(id)
		claimedByB := wb.claims(id)
		assert.NotEqual(t, claimedByA, claimedByB, "exactly one peer should claim %s", id)
	}
}

func TestDequeueTimeoutDefaultsTo2Seconds(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	assert.Equal(t, 2*time.Second, w.dequeueTimeout())
}

func TestDequeueTimeoutHonorsConfig(t *testing.T) {
	w := New(config.WorkerConfig{DequeueTimeoutSec: 5}, "node-a", nil, nil, nil, nil, nil, nil)
	assert.Equal(t, 5*time.Second, w.dequeueTimeout())
}

func TestSurrogateLinkLayerIDMatchesConvention(t *testing.T) {
	assert.Equal(t, "00:00:10:0:0:5", surrogateLinkLayerID("10.0.0.5"))
}

func TestTruncateLeavesShortStringsAlone(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
}

func TestTruncateCapsLongStrings(t *testing.T) {
	assert.Equal(t, "hell", truncate("hello", 4))
}

func TestProcessScanReturnsEarlyForAlreadyCancelledJob(t *testing.T) {
	w, scans, _, _ := newTestWorker(t)
	ctx := context.Background()

	require.NoError(t, scans.Save(ctx, jobmodel.ScanJob{ID: "scan-1", Status: jobmodel.ScanCancelled}))

	// scanPipeline is nil; if processScan proceeded past the cancelled
	// check it would panic calling Run on a nil pipeline.
	w.processScan(ctx, "scan-1")

	job, ok, err := scans.Get(ctx, "scan-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, jobmodel.ScanCancelled, job.Status)
}

func TestProcessScanLogsAndReturnsForUnknownJob(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	w.processScan(context.Background(), "does-not-exist")
}

func TestProcessFirmwareReturnsEarlyForAlreadyCancelledJob(t *testing.T) {
	w, _, firmwares, _ := newTestWorker(t)
	ctx := context.Background()

	require.NoError(t, firmwares.Save(ctx, jobmodel.FirmwareJob{ID: "fw-1", Status: jobmodel.FirmwareCancelled}))

	w.processFirmware(ctx, "fw-1")

	job, ok, err := firmwares.Get(ctx, "fw-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, jobmodel.FirmwareCancelled, job.Status)
}

func TestPersistScanResultsReplacesPortsForServicedHost(t *testing.T) {
	w, _, _, inv := newTestWorker(t)
	ctx := context.Background()

	hosts := []jobmodel.DiscoveredHost{
		{
			IPAddress: "10.0.0.5", LinkLayerID: "AA:BB:CC:DD:EE:FF", Live: true,
			Ports: []jobmodel.Port{
				{Number: 22, Protocol: "tcp", State: "open", Service: "ssh"},
				{Number: 443, Protocol: "tcp", State: "open", Service: "https"},
			},
		},
	}

	totalPorts, liveHosts := w.persistScanResults(ctx, "scan-1", hosts)
	assert.Equal(t, 2, totalPorts)
	assert.Equal(t, 1, liveHosts)

	ports, err := inv.GetPorts(ctx, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, "ssh", ports[0].Service)
}

func TestPersistScanResultsBuildsBarePortRowsFromOpenPorts(t *testing.T) {
	w, _, _, inv := newTestWorker(t)
	ctx := context.Background()

	hosts := []jobmodel.DiscoveredHost{
		{
			IPAddress: "10.0.0.6", Live: true,
			OpenPorts: []int{80, 8080},
		},
	}

	totalPorts, liveHosts := w.persistScanResults(ctx, "scan-2", hosts)
	assert.Equal(t, 2, totalPorts)
	assert.Equal(t, 1, liveHosts)

	identity := surrogateLinkLayerID("10.0.0.6")
	ports, err := inv.GetPorts(ctx, identity)
	require.NoError(t, err)
	require.Len(t, ports, 2)
	for _, p := range ports {
		assert.Equal(t, "tcp", p.Protocol)
		assert.Equal(t, "open", p.State)
	}
}

func TestPersistScanResultsClearsPortsForHostWithNoOpenPorts(t *testing.T) {
	w, _, _, inv := newTestWorker(t)
	ctx := context.Background()

	identity := "AA:BB:CC:DD:EE:00"
	require.NoError(t, inv.ReplacePorts(ctx, identity, []jobmodel.Port{{Number: 22, Protocol: "tcp", State: "open"}}))

	hosts := []jobmodel.DiscoveredHost{{IPAddress: "10.0.0.7", LinkLayerID: identity, Live: true}}

	totalPorts, _ := w.persistScanResults(ctx, "scan-3", hosts)
	assert.Equal(t, 0, totalPorts)

	ports, err := inv.GetPorts(ctx, identity)
	require.NoError(t, err)
	assert.Empty(t, ports)
}

func TestProcessFirmwareFailsWhenHostUnknown(t *testing.T) {
	w, _, firmwares, _ := newTestWorker(t)
	ctx := context.Background()

	require.NoError(t, firmwares.Save(ctx, jobmodel.FirmwareJob{
		ID: "fw-1", Status: jobmodel.FirmwarePending, HostLinkLayerID: "AA:BB:CC:DD:EE:FF",
	}))

	w.processFirmware(ctx, "fw-1")

	job, ok, err := firmwares.Get(ctx, "fw-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, jobmodel.FirmwareFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "unknown host")
}
