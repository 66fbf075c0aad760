// Package scantool builds argument vectors for the four scan-tool
// invocations and parses their output into jobmodel.DiscoveredHost
// values. Adapters are pure functions of (host record, config); they
// never mutate shared state.
package scantool

import (
	"strconv"

	"github.com/abhiramgcos/soc-netscan/internal/procrunner"
)

// PingSweepArgs builds the target-size-aware ping-sweep argument
// vector ("newer" -PR -PE -T4 --min-rate set, normative per the
// resolved Open Question).
func PingSweepArgs(nmapPath, target string) []string {
	hostCount := EstimateHostCount(target)
	argv := []string{
		nmapPath,
		"-sn",
		"-PR", "-PE", "-T4",
		"--min-rate", strconv.Itoa(MinRate(hostCount)),
		"-oX", "-",
	}
	argv = append(argv, HostGroupFlags(hostCount)...)
	argv = append(argv, target)
	return argv
}

// PingSweepTimeout returns the wall-clock timeout for PingSweepArgs'
// target, scaled by PingSweepTimeoutSeconds' host-count boundary table.
func PingSweepTimeout(target string) int {
	return PingSweepTimeoutSeconds(EstimateHostCount(target))
}

// ArpScanArgs builds the primary arp-scan invocation for stage 2.
func ArpScanArgs(arpScanPath, ipAddress string) []string {
	return []string{arpScanPath, "--quiet", ipAddress}
}

// ArpNmapFallbackArgs builds the nmap ARP-ping fallback for stage 2
// when arp-scan is unavailable or fails.
func ArpNmapFallbackArgs(nmapPath, ipAddress string) []string {
	return []string{nmapPath, "-PR", "-sn", "-oX", "-", ipAddress}
}

// RustscanArgs builds the primary fast port-scan invocation.
func RustscanArgs(rustscanPath, ipAddress string) []string {
	return []string{rustscanPath, "-a", ipAddress, "-g"}
}

// NmapPortScanFallbackArgs builds the nmap SYN-scan top-1000 fallback
// for stage 3 when rustscan is unavailable or fails.
func NmapPortScanFallbackArgs(nmapPath, ipAddress string) []string {
	return []string{nmapPath, "-sS", "--top-ports", "1000", "--min-rate", "3000", "-T4", "-oX", "-", ipAddress}
}

// DeepScanArgs builds the stage-4 deep-scan invocation: service/
// version detection plus OS fingerprinting over the ports discovered
// at stage 3.
func DeepScanArgs(nmapPath, ipAddress string, openPorts []int) []string {
	ports := joinInts(openPorts)
	return []string{nmapPath, "-sV", "-O", "-p", ports, "-oX", "-", ipAddress}
}

func joinInts(ints []int) string {
	out := ""
	for i, n := range ints {
		if i > 0 {
			out += ","
		}
		out += strconv.Itoa(n)
	}
	return out
}

// ToolOutcome classifies a procrunner.Result for metrics purposes.
func ToolOutcome(res procrunner.Result) string {
	switch {
	case res.ExitCode == -1:
		return "timeout"
	case res.ExitCode != 0:
		return "nonzero_exit"
	default:
		return "ok"
	}
}
