package main

import (
	"fmt"
	"os"

	"github.com/John-MustangGT/sentinel/internal/config"
	"github.com/John-MustangGT/sentinel/internal/web"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:   "sentinel",
		Short: "Self-hosted service health monitoring and alerting",
		Long: `Sentinel tracks services through heartbeats, webhooks, health checks and
pushed metrics, and raises alerts when they go down or recover.`,
		SilenceUsage: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring server",
		RunE:  runServe,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run:   runVersion,
	}
	pairTokenCmd = &cobra.Command{
		Use:   "pair-token",
		Short: "Generate a pairing token for another instance",
		Long: `Creates a one-time pairing secret in the configured store and prints the
token to hand to the other instance's operator. The server must not be
running, since the store is opened directly.`,
		RunE: runPairToken,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Configuration file path")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pairTokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	info := web.CurrentBuildInfo()
	fmt.Fprintf(cmd.OutOrStdout(), "Sentinel %s\nCommit: %s (%s)\nBuilt: %s\nGo: %s %s/%s\n",
		info.Version, info.GitCommit, info.GitBranch, info.BuildTime, info.GoVersion, info.GoOS, info.GoArch)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
