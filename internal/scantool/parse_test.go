package scantool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pingSweepXML = `<?xml version="1.0"?>
<nmaprun>
  <host>
    <status state="up"/>
    <address addr="10.0.0.5" addrtype="ipv4"/>
    <address addr="AA:BB:CC:DD:EE:FF" addrtype="mac" vendor="Acme Corp"/>
    <hostnames><hostname name="box1.lan"/></hostnames>
    <times srtt="1500"/>
  </host>
  <host>
    <status state="down"/>
    <address addr="10.0.0.6" addrtype="ipv4"/>
  </host>
</nmaprun>`

func TestParsePingSweepXMLOnlyUpHosts(t *testing.T) {
	hosts, err := ParsePingSweepXML(pingSweepXML)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "10.0.0.5", hosts[0].IPAddress)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", hosts[0].LinkLayerID)
	assert.Equal(t, "Acme Corp", hosts[0].Vendor)
	assert.Equal(t, "box1.lan", hosts[0].Hostname)
	assert.InDelta(t, 1.5, hosts[0].RTTMillis, 0.001)
}

func TestParsePingSweepXMLMalformedReturnsParseFailure(t *testing.T) {
	hosts, err := ParsePingSweepXML("<not-xml")
	assert.Nil(t, hosts)
	require.Error(t, err)
}

func TestParseGreppablePortsDedupesAndIgnoresJunk(t *testing.T) {
	ports := ParseGreppablePorts("10.0.0.5 -> [22,80,80,443]\n10.0.0.5 -> [443,8080]")
	assert.Equal(t, []int{22, 80, 443, 8080}, ports)
}

func TestParseGreppablePortsNoMatch(t *testing.T) {
	ports := ParseGreppablePorts("no brackets here")
	assert.Nil(t, ports)
}

const deepScanXML = `<?xml version="1.0"?>
<nmaprun>
  <host>
    <ports>
      <port portid="22" protocol="tcp">
        <state state="open"/>
        <service name="ssh" product="OpenSSH" version="8.4" extrainfo="protocol 2.0"/>
      </port>
    </ports>
    <os>
      <osmatch name="Linux 5.X" accuracy="97">
        <osclass osfamily="Linux"><cpe>cpe:/o:linux:linux_kernel:5</cpe></osclass>
      </osmatch>
    </os>
  </host>
</nmaprun>`

func TestParseDeepScanXML(t *testing.T) {
	ports, osName, osFamily, osAccuracy, osCPE, err := ParseDeepScanXML(deepScanXML)
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, 22, ports[0].Number)
	assert.Equal(t, "OpenSSH", ports[0].Product)
	assert.Equal(t, "Linux 5.X", osName)
	assert.Equal(t, "Linux", osFamily)
	assert.Equal(t, 97, osAccuracy)
	assert.Equal(t, "cpe:/o:linux:linux_kernel:5", osCPE)
}

func TestParseDeepScanXMLMalformed(t *testing.T) {
	_, _, _, _, _, err := ParseDeepScanXML("<broken")
	require.Error(t, err)
}
