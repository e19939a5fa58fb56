package main

import (
	"fmt"
	"os"
	"time"

	"github.com/John-MustangGT/sentinel/internal/discovery"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	discoverNetwork  string
	discoverXMLFile  string
	discoverOutput   string
	discoverNmapPath string
	discoverPorts    string
	discoverInterval time.Duration
	discoverSeverity string
	discoverContacts []string

	discoverCmd = &cobra.Command{
		Use:   "discover",
		Short: "Generate health-check services from an nmap scan",
		Long: `Scans a network with nmap (or reads an existing nmap XML report) and writes
a config fragment with one service per host exposing HTTP(S), each with a
health_check monitor per open web port. Drop the file into the include
directory to have it synced at startup.`,
		RunE: runDiscover,
	}
)

func init() {
	f := discoverCmd.Flags()
	f.StringVar(&discoverNetwork, "network", "", "CIDR network to scan (auto-detected when empty)")
	f.StringVar(&discoverXMLFile, "xml", "", "Use an existing nmap XML file instead of scanning")
	f.StringVarP(&discoverOutput, "output", "o", "discovered.yaml", "Output fragment file")
	f.StringVar(&discoverNmapPath, "nmap", "nmap", "Path to the nmap binary")
	f.StringVar(&discoverPorts, "ports", discovery.DefaultPorts, "Ports to scan")
	f.DurationVar(&discoverInterval, "interval", time.Minute, "Health-check interval for generated monitors")
	f.StringVar(&discoverSeverity, "severity", "", "Severity for generated services")
	f.StringSliceVar(&discoverContacts, "contact", nil, "Contact name to attach (repeatable)")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if discoverXMLFile != "" {
		logrus.WithField("file", discoverXMLFile).Info("Reading nmap XML")
		data, err = os.ReadFile(discoverXMLFile)
		if err != nil {
			return fmt.Errorf("failed to read XML file: %w", err)
		}
	} else {
		network := discoverNetwork
		if network == "" {
			network = discovery.DetectLocalNetwork()
			if network == "" {
				return fmt.Errorf("no network specified and none detected; use --network")
			}
			logrus.WithField("network", network).Info("Auto-detected network")
		}
		data, err = discovery.RunNmap(cmd.Context(), discoverNmapPath, network, discoverPorts)
		if err != nil {
			return err
		}
	}

	run, err := discovery.ParseNmapXML(data)
	if err != nil {
		return err
	}
	services := discovery.Services(run, discovery.Options{
		Interval: discoverInterval,
		Severity: discoverSeverity,
		Contacts: discoverContacts,
	})
	if err := discovery.WriteFragment(services, discoverOutput); err != nil {
		return err
	}

	monitors := 0
	for _, svc := range services {
		monitors += len(svc.Monitors)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d services with %d health checks to %s\n", len(services), monitors, discoverOutput)
	return nil
}
