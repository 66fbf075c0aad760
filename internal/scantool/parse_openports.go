package scantool

import (
	"encoding/xml"
	"strconv"

	"github.com/abhiramgcos/soc-netscan/internal/jobserr"
)

// ParseOpenPortsXML extracts just the open port numbers from an nmap
// XML document, used by the stage-3 nmap fallback when rustscan is
// unavailable — service/version detail isn't gathered until stage 4.
func ParseOpenPortsXML(xmlOutput string) ([]int, error) {
	var run nmapRun
	if err := xml.Unmarshal([]byte(xmlOutput), &run); err != nil {
		return nil, &jobserr.ParseFailure{Tool: "nmap-port-scan", Err: err}
	}
	if len(run.Hosts) == 0 {
		return nil, nil
	}

	var ports []int
	for _, p := range run.Hosts[0].Ports.Port {
		if p.State.State != "open" {
			continue
		}
		n, err := strconv.Atoi(p.PortID)
		if err != nil {
			continue
		}
		ports = append(ports, n)
	}
	return ports, nil
}
