package scantool

import (
	"encoding/xml"
	"strconv"

	"github.com/abhiramgcos/soc-netscan/internal/jobmodel"
	"github.com/abhiramgcos/soc-netscan/internal/jobserr"
)

type nmapRun struct {
	Hosts []nmapHost `xml:"host"`
}

type nmapHost struct {
	Status    nmapStatus    `xml:"status"`
	Addresses []nmapAddress `xml:"address"`
	Hostnames struct {
		Hostname []struct {
			Name string `xml:"name,attr"`
		} `xml:"hostname"`
	} `xml:"hostnames"`
	Times struct {
		SRTT string `xml:"srtt,attr"`
	} `xml:"times"`
	Ports struct {
		Port []nmapPort `xml:"port"`
	} `xml:"ports"`
	OS struct {
		OSMatch []nmapOSMatch `xml:"osmatch"`
	} `xml:"os"`
}

type nmapStatus struct {
	State string `xml:"state,attr"`
}

type nmapAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
	Vendor   string `xml:"vendor,attr"`
}

type nmapPort struct {
	PortID   string `xml:"portid,attr"`
	Protocol string `xml:"protocol,attr"`
	State    struct {
		State string `xml:"state,attr"`
	} `xml:"state"`
	Service struct {
		Name    string `xml:"name,attr"`
		Product string `xml:"product,attr"`
		Version string `xml:"version,attr"`
		Extra   string `xml:"extrainfo,attr"`
		CPE     string `xml:"cpe"`
	} `xml:"service"`
	Scripts []struct {
		ID     string `xml:"id,attr"`
		Output string `xml:"output,attr"`
	} `xml:"script"`
}

type nmapOSMatch struct {
	Name     string `xml:"name,attr"`
	Accuracy string `xml:"accuracy,attr"`
	OSClass  []struct {
		OSFamily string   `xml:"osfamily,attr"`
		CPE      []string `xml:"cpe"`
	} `xml:"osclass"`
}

// ParsePingSweepXML parses nmap ping-sweep XML output. Only hosts
// with status=up are emitted. Malformed XML yields an empty set and a
// *jobserr.ParseFailure rather than aborting the pipeline.
func ParsePingSweepXML(xmlOutput string) ([]jobmodel.DiscoveredHost, error) {
	var run nmapRun
	if err := xml.Unmarshal([]byte(xmlOutput), &run); err != nil {
		return nil, &jobserr.ParseFailure{Tool: "nmap-ping-sweep", Err: err}
	}

	var hosts []jobmodel.DiscoveredHost
	for _, h := range run.Hosts {
		if h.Status.State != "up" {
			continue
		}
		dh := jobmodel.DiscoveredHost{Live: true}
		for _, addr := range h.Addresses {
			switch addr.AddrType {
			case "ipv4":
				dh.IPAddress = addr.Addr
			case "mac":
				dh.LinkLayerID = addr.Addr
				dh.Vendor = addr.Vendor
			}
		}
		if len(h.Hostnames.Hostname) > 0 {
			dh.Hostname = h.Hostnames.Hostname[0].Name
		}
		if h.Times.SRTT != "" {
			dh.RTTMillis = parseMicrosToMillis(h.Times.SRTT)
		}
		if dh.IPAddress == "" {
			continue
		}
		hosts = append(hosts, dh)
	}
	return hosts, nil
}

func parseMicrosToMillis(s string) float64 {
	micros, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return micros / 1000.0
}
