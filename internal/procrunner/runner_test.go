package procrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdout(t *testing.T) {
	res, err := Run(context.Background(), []string{"echo", "hello"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "hello")
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "exit 3"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunTimeoutKillsGroup(t *testing.T) {
	res, err := Run(context.Background(), []string{"sleep", "5"}, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Stderr, "Command timed out after 0s")
}

func TestRunEmptyArgv(t *testing.T) {
	_, err := Run(context.Background(), nil, time.Second)
	assert.Error(t, err)
}

func TestFindBinaryFallsBackToBareName(t *testing.T) {
	assert.Equal(t, "definitely-not-a-real-tool", FindBinary("definitely-not-a-real-tool"))
}

func TestFindBinaryResolvesFromPath(t *testing.T) {
	path := FindBinary("echo")
	assert.NotEmpty(t, path)
}

func TestRunWithEnvPropagatesExtraVars(t *testing.T) {
	res, err := RunWithEnv(context.Background(), []string{"sh", "-c", "echo $GPT_OPTION"}, []string{"GPT_OPTION=2"}, 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "2")
}
