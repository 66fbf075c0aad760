package firmwarepipeline

import (
	"context"
	"testing"

	"github.com/abhiramgcos/soc-netscan/internal/config"
	"github.com/abhiramgcos/soc-netscan/internal/jobserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesDownloadDir(t *testing.T) {
	dir := t.TempDir() + "/nested/firmware"
	_, err := New(config.FirmwareConfig{DownloadDir: dir})
	require.NoError(t, err)
}

func TestRunRejectsMissingFirmwareURL(t *testing.T) {
	p, err := New(config.FirmwareConfig{DownloadDir: t.TempDir()})
	require.NoError(t, err)

	err = p.Run(context.Background(), "abcd1234", Target{IPAddress: "10.0.0.5", LinkLayerID: "AA:BB:CC:DD:EE:FF"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, jobserr.ErrProgrammer)
}

func TestNotifyPropagatesCancellation(t *testing.T) {
	err := notify(func(StageUpdate) error { return jobserr.ErrCancelled }, StageUpdate{})
	assert.ErrorIs(t, err, jobserr.ErrCancelled)
}

func TestNotifyWrapsOtherErrorsAsDatastoreFailure(t *testing.T) {
	err := notify(func(StageUpdate) error { return assert.AnError }, StageUpdate{})
	assert.ErrorIs(t, err, jobserr.ErrDatastoreUnavailable)
}
