package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/app"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

func newGraphCommand() *cobra.Command {
	var (
		as      string
		owner   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the resolved outcome, measure, bet and task graph as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			docs, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer docs.Close()

			svc := app.New(cfg, docs, app.WithLogger(logger))
			if err := svc.Start(ctx, app.Identity{ID: as, DisplayName: as}); err != nil {
				return err
			}
			defer svc.Stop()

			if err := waitReady(ctx, svc, store.CollectionOutcomes, store.CollectionMeasures, store.CollectionBets, store.CollectionTasks); err != nil {
				return err
			}
			view, err := svc.ResolveGraph(owner)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string]any{
				"nodes":    view.Nodes,
				"edges":    view.Edges,
				"layout":   view.Layout,
				"dangling": view.Dangling,
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "cli", "user id to read as")
	cmd.Flags().StringVar(&owner, "owner", "", "only show entities owned by this user")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the first snapshots")
	return cmd
}

// waitReady polls until every collection has received its first snapshot.
func waitReady(ctx context.Context, svc *app.Service, collections ...store.Collection) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		entities, err := svc.Entities()
		if err != nil {
			return err
		}
		ready := true
		for _, c := range collections {
			if !entities.Ready(c) {
				ready = false
				break
			}
		}
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for snapshots: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
