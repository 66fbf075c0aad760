package scantool

import (
	"math"
	"net"
	"strings"
)

// EstimateHostCount estimates the number of addresses a target
// expression covers, used to size the ping-sweep timeout and rate
// flags. A CIDR yields max(num_addresses-2, 1); a token
// containing "-" (a range) is treated as 256; anything else is a
// single host.
func EstimateHostCount(target string) int {
	if _, ipNet, err := net.ParseCIDR(target); err == nil {
		ones, bits := ipNet.Mask.Size()
		addresses := int(math.Pow(2, float64(bits-ones)))
		if addresses-2 > 1 {
			return addresses - 2
		}
		return 1
	}
	if strings.Contains(target, "-") {
		return 256
	}
	return 1
}

// PingSweepTimeoutSeconds returns the ping-sweep wall-clock timeout
// scaled by host count per the boundary table below.
func PingSweepTimeoutSeconds(hostCount int) int {
	switch {
	case hostCount <= 1:
		return 120
	case hostCount <= 254:
		return 180
	case hostCount <= 510:
		return 300
	case hostCount <= 2046:
		return 600
	default:
		return 900
	}
}

// MinRate returns the nmap --min-rate value for the given host count.
func MinRate(hostCount int) int {
	if hostCount <= 64 {
		return 100
	}
	return 300
}

// HostGroupFlags returns the --min-hostgroup argument pair for the
// given host count, or nil if no host-group flag applies.
func HostGroupFlags(hostCount int) []string {
	switch {
	case hostCount > 512:
		return []string{"--min-hostgroup", "128"}
	case hostCount > 128:
		return []string{"--min-hostgroup", "64"}
	default:
		return nil
	}
}
