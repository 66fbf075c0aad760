package scantool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseArpScanLineMatch(t *testing.T) {
	output := "Interface: eth0\n10.0.0.5\tAA:BB:CC:DD:EE:FF\tAcme Corp\n10.0.0.6\t11:22:33:44:55:66\tOther Inc"
	mac, vendor := ParseArpScanLine(output, "10.0.0.5")
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", mac)
	assert.Equal(t, "Acme Corp", vendor)
}

func TestParseArpScanLineNoMatch(t *testing.T) {
	mac, vendor := ParseArpScanLine("10.0.0.9\tFF:FF:FF:FF:FF:FF\tSomeone", "10.0.0.5")
	assert.Empty(t, mac)
	assert.Empty(t, vendor)
}

const openPortsXML = `<?xml version="1.0"?>
<nmaprun>
  <host>
    <ports>
      <port portid="22" protocol="tcp"><state state="open"/></port>
      <port portid="23" protocol="tcp"><state state="closed"/></port>
      <port portid="443" protocol="tcp"><state state="open"/></port>
    </ports>
  </host>
</nmaprun>`

func TestParseOpenPortsXML(t *testing.T) {
	ports, err := ParseOpenPortsXML(openPortsXML)
	assert.NoError(t, err)
	assert.Equal(t, []int{22, 443}, ports)
}

func TestParseOpenPortsXMLMalformed(t *testing.T) {
	_, err := ParseOpenPortsXML("<broken")
	assert.Error(t, err)
}
