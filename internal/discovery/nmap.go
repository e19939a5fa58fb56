// internal/discovery/nmap.go - turn nmap scans into service definitions
package discovery

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/John-MustangGT/sentinel/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultPorts are scanned when no port list is given.
const DefaultPorts = "80,443,8080,8443"

// Nmap XML structures
type NmapRun struct {
	XMLName xml.Name `xml:"nmaprun"`
	Args    string   `xml:"args,attr"`
	Hosts   []Host   `xml:"host"`
}

type Host struct {
	Status    HostStatus `xml:"status"`
	Addresses []Address  `xml:"address"`
	Hostnames []Hostname `xml:"hostnames>hostname"`
	Ports     []Port     `xml:"ports>port"`
}

type HostStatus struct {
	State string `xml:"state,attr"`
}

type Address struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type Hostname struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

type Port struct {
	Protocol string      `xml:"protocol,attr"`
	PortID   int         `xml:"portid,attr"`
	State    PortState   `xml:"state"`
	Service  PortService `xml:"service"`
}

type PortState struct {
	State string `xml:"state,attr"`
}

type PortService struct {
	Name    string `xml:"name,attr"`
	Product string `xml:"product,attr"`
	Tunnel  string `xml:"tunnel,attr"`
}

// Options control how discovered hosts become services.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Severity string
	Contacts []string
}

func ParseNmapXML(data []byte) (*NmapRun, error) {
	var run NmapRun
	if err := xml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse nmap XML: %w", err)
	}
	return &run, nil
}

// RunNmap scans network on the given ports and returns the XML report.
func RunNmap(ctx context.Context, nmapPath, network, ports string) ([]byte, error) {
	if ports == "" {
		ports = DefaultPorts
	}
	args := []string{"--system-dns", "-sV", "-oX", "-", "-p", ports, network}
	logrus.WithField("args", strings.Join(args, " ")).Info("Running nmap")

	out, err := exec.CommandContext(ctx, nmapPath, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("nmap exited with status %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("nmap execution failed: %w", err)
	}
	return out, nil
}

// DetectLocalNetwork returns the first global unicast IPv4 network of an
// up, non-loopback interface.
func DetectLocalNetwork() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && ipnet.IP.IsGlobalUnicast() {
				return ipnet.String()
			}
		}
	}
	return ""
}

// Services builds one service per live host with an open HTTP(S) port, each
// carrying a health_check monitor per such port. Output is sorted by id.
func Services(run *NmapRun, opts Options) []config.ServiceConfig {
	var services []config.ServiceConfig
	seen := make(map[string]int)

	for _, host := range run.Hosts {
		if host.Status.State != "" && host.Status.State != "up" {
			continue
		}
		addr := hostAddress(host)
		if addr == "" {
			continue
		}

		var monitors []config.MonitorConfig
		for _, port := range host.Ports {
			if port.Protocol != "tcp" || port.State.State != "open" {
				continue
			}
			scheme := webScheme(port)
			if scheme == "" {
				continue
			}
			monitors = append(monitors, config.MonitorConfig{
				Type:     "health_check",
				Interval: opts.Interval,
				Timeout:  opts.Timeout,
				URL:      fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(addr, fmt.Sprint(port.PortID))),
			})
		}
		if len(monitors) == 0 {
			continue
		}

		id := serviceID(host)
		if n := seen[id]; n > 0 {
			id = fmt.Sprintf("%s-%d", id, n+1)
		}
		seen[serviceID(host)]++

		services = append(services, config.ServiceConfig{
			ID:          id,
			Name:        displayName(host),
			Description: "Discovered " + addr,
			Severity:    opts.Severity,
			Contacts:    opts.Contacts,
			Monitors:    monitors,
		})
	}

	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })
	return services
}

// WriteFragment writes services as an include fragment for the config
// directory.
func WriteFragment(services []config.ServiceConfig, filename string) error {
	data, err := yaml.Marshal(&config.PartialConfig{Services: services})
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	header := fmt.Sprintf("# Generated by sentinel discover on %s\n# Contains %d services\n\n",
		time.Now().Format("2006-01-02 15:04:05"), len(services))

	if err := os.WriteFile(filename, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func webScheme(port Port) string {
	name := port.Service.Name
	switch {
	case port.Service.Tunnel == "ssl" && strings.HasPrefix(name, "http"):
		return "https"
	case name == "https" || name == "https-alt" || port.PortID == 443 || port.PortID == 8443:
		return "https"
	case strings.HasPrefix(name, "http") || port.PortID == 80 || port.PortID == 8080:
		return "http"
	}
	return ""
}

func hostAddress(host Host) string {
	for _, addr := range host.Addresses {
		if addr.AddrType == "ipv4" {
			return addr.Addr
		}
	}
	for _, addr := range host.Addresses {
		if addr.AddrType == "ipv6" {
			return addr.Addr
		}
	}
	return ""
}

func hostname(host Host) string {
	for _, hn := range host.Hostnames {
		if hn.Type == "PTR" || hn.Type == "user" {
			return hn.Name
		}
	}
	return ""
}

func serviceID(host Host) string {
	if name := hostname(host); name != "" {
		return strings.ToLower(strings.Split(name, ".")[0])
	}
	return "host-" + strings.NewReplacer(".", "-", ":", "-").Replace(hostAddress(host))
}

func displayName(host Host) string {
	if name := hostname(host); name != "" {
		return strings.Split(name, ".")[0]
	}
	return hostAddress(host)
}
