package scantool

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/abhiramgcos/soc-netscan/internal/jobmodel"
	"github.com/abhiramgcos/soc-netscan/internal/jobserr"
)

// ParseDeepScanXML parses a single-host nmap -sV -O XML document into
// its port list and OS guess. Only the first osmatch element is used
// for the OS fields, matching nmap's own best-guess ordering
// stage 4).
func ParseDeepScanXML(xmlOutput string) (ports []jobmodel.Port, osName, osFamily string, osAccuracy int, osCPE string, err error) {
	var run nmapRun
	if e := xml.Unmarshal([]byte(xmlOutput), &run); e != nil {
		return nil, "", "", 0, "", &jobserr.ParseFailure{Tool: "nmap-deep-scan", Err: e}
	}
	if len(run.Hosts) == 0 {
		return nil, "", "", 0, "", nil
	}

	h := run.Hosts[0]
	for _, p := range h.Ports.Port {
		portNum, convErr := strconv.Atoi(p.PortID)
		if convErr != nil {
			continue
		}
		port := jobmodel.Port{
			Number:   portNum,
			Protocol: p.Protocol,
			State:    p.State.State,
			Service:  p.Service.Name,
			Product:  p.Service.Product,
			Version:  p.Service.Version,
			Extra:    p.Service.Extra,
			CPE:      p.Service.CPE,
		}
		if len(p.Scripts) > 0 {
			var sb strings.Builder
			for i, s := range p.Scripts {
				if i > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(s.ID)
				sb.WriteString(": ")
				sb.WriteString(s.Output)
			}
			port.Script = sb.String()
		}
		ports = append(ports, port)
	}

	if len(h.OS.OSMatch) > 0 {
		best := h.OS.OSMatch[0]
		osName = best.Name
		if acc, convErr := strconv.Atoi(best.Accuracy); convErr == nil {
			osAccuracy = acc
		}
		if len(best.OSClass) > 0 {
			osFamily = best.OSClass[0].OSFamily
			if len(best.OSClass[0].CPE) > 0 {
				osCPE = best.OSClass[0].CPE[0]
			}
		}
	}

	return ports, osName, osFamily, osAccuracy, osCPE, nil
}
