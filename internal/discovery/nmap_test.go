package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/John-MustangGT/sentinel/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleScan = `<?xml version="1.0"?>
<nmaprun scanner="nmap" args="nmap -oX - 10.0.0.0/24">
  <host>
    <status state="up"/>
    <address addr="10.0.0.5" addrtype="ipv4"/>
    <hostnames><hostname name="web.lan" type="PTR"/></hostnames>
    <ports>
      <port protocol="tcp" portid="22"><state state="open"/><service name="ssh"/></port>
      <port protocol="tcp" portid="80"><state state="open"/><service name="http"/></port>
      <port protocol="tcp" portid="8443"><state state="open"/><service name="http" tunnel="ssl"/></port>
    </ports>
  </host>
  <host>
    <status state="up"/>
    <address addr="10.0.0.9" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="443"><state state="closed"/><service name="https"/></port>
      <port protocol="tcp" portid="22"><state state="open"/><service name="ssh"/></port>
    </ports>
  </host>
  <host>
    <status state="up"/>
    <address addr="10.0.0.7" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="8080"><state state="open"/><service name="http-proxy"/></port>
    </ports>
  </host>
  <host>
    <status state="down"/>
    <address addr="10.0.0.8" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="80"><state state="open"/><service name="http"/></port>
    </ports>
  </host>
</nmaprun>`

func TestServicesFromScan(t *testing.T) {
	run, err := ParseNmapXML([]byte(sampleScan))
	require.NoError(t, err)

	services := Services(run, Options{Interval: time.Minute, Severity: "high"})
	require.Len(t, services, 2)

	assert.Equal(t, "host-10-0-0-7", services[0].ID)
	assert.Equal(t, "10.0.0.7", services[0].Name)
	require.Len(t, services[0].Monitors, 1)
	assert.Equal(t, "http://10.0.0.7:8080/", services[0].Monitors[0].URL)

	web := services[1]
	assert.Equal(t, "web", web.ID)
	assert.Equal(t, "high", web.Severity)
	require.Len(t, web.Monitors, 2)
	assert.Equal(t, "http://10.0.0.5:80/", web.Monitors[0].URL)
	assert.Equal(t, "https://10.0.0.5:8443/", web.Monitors[1].URL)
	for _, m := range web.Monitors {
		assert.Equal(t, "health_check", m.Type)
		assert.Equal(t, time.Minute, m.Interval)
		require.NoError(t, m.ToMonitor(web.ID).Validate())
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := ParseNmapXML([]byte("not xml"))
	assert.Error(t, err)
}

func TestWriteFragmentLoadsAsInclude(t *testing.T) {
	run, err := ParseNmapXML([]byte(sampleScan))
	require.NoError(t, err)
	services := Services(run, Options{Interval: 30 * time.Second})

	path := filepath.Join(t.TempDir(), "discovered.yaml")
	require.NoError(t, WriteFragment(services, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var partial config.PartialConfig
	require.NoError(t, yaml.Unmarshal(data, &partial))
	require.Len(t, partial.Services, 2)
	assert.Equal(t, 30*time.Second, partial.Services[1].Monitors[0].Interval)
	assert.Equal(t, "https://10.0.0.5:8443/", partial.Services[1].Monitors[1].URL)
}
