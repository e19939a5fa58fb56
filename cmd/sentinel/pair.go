package main

import (
	"context"
	"fmt"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/monitoring"
	"github.com/John-MustangGT/sentinel/internal/peering"
	"github.com/spf13/cobra"
)

func runPairToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database (is the server running?): %w", err)
	}
	defer store.Close()

	// outbound calls are never made while issuing a token
	pairing := peering.NewService(store, monitoring.SystemClock(), nil, peering.Options{
		SelfURL:                  cfg.Server.PublicURL,
		SelfName:                 cfg.Server.InstanceName,
		TokenTTL:                 cfg.Peering.TokenTTL,
		HeartbeatIntervalSeconds: cfg.Peering.HeartbeatIntervalSeconds,
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	token, err := pairing.Initiate(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "Token valid for %s. Complete pairing on the other instance with POST /peers/pair/complete.\n",
		cfg.Peering.TokenTTL)
	return nil
}
