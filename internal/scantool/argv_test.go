package scantool

import (
	"testing"

	"github.com/abhiramgcos/soc-netscan/internal/procrunner"
	"github.com/stretchr/testify/assert"
)

func TestPingSweepArgsSmallTarget(t *testing.T) {
	argv := PingSweepArgs("/usr/bin/nmap", "10.0.0.5")
	assert.Equal(t, []string{
		"/usr/bin/nmap", "-sn", "-PR", "-PE", "-T4",
		"--min-rate", "100", "-oX", "-", "10.0.0.5",
	}, argv)
}

func TestPingSweepArgsLargeSubnetAddsHostGroup(t *testing.T) {
	argv := PingSweepArgs("/usr/bin/nmap", "10.0.0.0/23")
	assert.Contains(t, argv, "--min-hostgroup")
	assert.Contains(t, argv, "64")
}

func TestDeepScanArgsJoinsPorts(t *testing.T) {
	argv := DeepScanArgs("/usr/bin/nmap", "10.0.0.5", []int{22, 80, 443})
	assert.Equal(t, []string{"/usr/bin/nmap", "-sV", "-O", "-p", "22,80,443", "-oX", "-", "10.0.0.5"}, argv)
}

func TestToolOutcome(t *testing.T) {
	assert.Equal(t, "timeout", ToolOutcome(procrunner.Result{ExitCode: -1}))
	assert.Equal(t, "nonzero_exit", ToolOutcome(procrunner.Result{ExitCode: 1}))
	assert.Equal(t, "ok", ToolOutcome(procrunner.Result{ExitCode: 0}))
}
