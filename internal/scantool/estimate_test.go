package scantool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateHostCountCIDR(t *testing.T) {
	assert.Equal(t, 254, EstimateHostCount("192.168.1.0/24"))
	assert.Equal(t, 1, EstimateHostCount("10.0.0.0/31"))
}

func TestEstimateHostCountRange(t *testing.T) {
	assert.Equal(t, 256, EstimateHostCount("10.0.0.1-10.0.0.254"))
}

func TestEstimateHostCountSingleHost(t *testing.T) {
	assert.Equal(t, 1, EstimateHostCount("10.0.0.5"))
}

func TestPingSweepTimeoutSecondsBoundaries(t *testing.T) {
	cases := []struct {
		hosts int
		want  int
	}{
		{1, 120},
		{2, 180},
		{255, 300},
		{511, 600},
		{2047, 900},
		{2048, 900},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, PingSweepTimeoutSeconds(c.hosts), "hosts=%d", c.hosts)
	}
}

func TestMinRate(t *testing.T) {
	assert.Equal(t, 100, MinRate(64))
	assert.Equal(t, 300, MinRate(65))
}

func TestHostGroupFlags(t *testing.T) {
	assert.Nil(t, HostGroupFlags(128))
	assert.Equal(t, []string{"--min-hostgroup", "64"}, HostGroupFlags(129))
	assert.Equal(t, []string{"--min-hostgroup", "128"}, HostGroupFlags(513))
}
