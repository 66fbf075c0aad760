package scantool

import "strings"

// ParseArpScanLine extracts the MAC and vendor for ip from arp-scan's
// tab-separated output ("10.0.0.5\tAA:BB:CC:DD:EE:FF\tVendor Name").
// Returns empty strings if ip is not present in the output.
func ParseArpScanLine(output, ip string) (mac, vendor string) {
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		if strings.TrimSpace(fields[0]) != ip {
			continue
		}
		mac = strings.TrimSpace(fields[1])
		if len(fields) >= 3 {
			vendor = strings.TrimSpace(fields[2])
		}
		return mac, vendor
	}
	return "", ""
}
