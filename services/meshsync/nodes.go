package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meshsync/internal/config"
	"github.com/meshsync/internal/engine"
	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/model"
	"github.com/meshsync/internal/startup"
	"github.com/meshsync/internal/view"
)

var errNotSynced = errors.New("gateway snapshot not received")

func newNodesCmd() *cobra.Command {
	var (
		gateway string
		sortBy  string
		query   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Connect once and print the node list",
		Long:  "Connects to the gateway, waits for the initial snapshot and prints the known nodes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if gateway != "" {
				cfg.GatewayURL = gateway
			}
			logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
			nodes, err := fetchNodes(cmd.Context(), cfg, view.ParseSortKey(sortBy), query, timeout)
			if err != nil {
				return err
			}
			return writeNodeTable(cmd.OutOrStdout(), nodes, time.Now())
		},
	}

	cmd.Flags().StringVar(&gateway, "gateway", "", "gateway websocket URL (overrides GATEWAY_URL)")
	cmd.Flags().StringVar(&sortBy, "sort", "name", "sort order: name or last_heard")
	cmd.Flags().StringVarP(&query, "query", "q", "", "filter by id or name")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "how long to wait for the snapshot")
	return cmd
}

func fetchNodes(ctx context.Context, cfg *config.Config, key view.SortKey, query string, timeout time.Duration) ([]model.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	store, err := startup.OpenMarkerStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	eng := engine.New(startup.EngineOptions(cfg, store))
	if err := eng.Restore(ctx); err != nil {
		logger.Warnf("%v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx)
	}()
	defer func() {
		eng.Disconnect()
		cancel()
		<-done
	}()

	changes, unsubscribe := eng.Subscribe()
	defer unsubscribe()
	eng.Connect(ctx)

	for {
		select {
		case <-ctx.Done():
			if st := eng.Status(); st.LastError != "" {
				return nil, fmt.Errorf("%w: %s", errNotSynced, st.LastError)
			}
			return nil, errNotSynced
		case c := <-changes:
			if c.Status != nil && c.Status.Synced {
				return eng.Views().Nodes(key, query), nil
			}
		}
	}
}

func writeNodeTable(out io.Writer, nodes []model.Node, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLAST HEARD\tHOPS\tSNR\tBATTERY\t")
	for _, n := range nodes {
		name := n.DisplayName()
		if n.Favorite {
			name = "* " + name
		}
		heard := "never"
		if n.LastHeard > 0 {
			heard = humanize.RelTime(time.Unix(n.LastHeard, 0), now, "ago", "from now")
		}
		if n.Stale {
			heard += " (stale)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n", n.ID, name, heard, optInt(n.HopsAway, ""), optFloat(n.SNR, " dB"), battery(n.Metrics))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%s nodes\n", humanize.Comma(int64(len(nodes))))
	return err
}

func optInt(p *int, suffix string) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p) + suffix
}

func optFloat(p *float64, suffix string) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatFloat(*p, 'f', 1, 64) + suffix
}

func battery(m *model.DeviceMetrics) string {
	if m == nil {
		return "-"
	}
	return optInt(m.BatteryLevel, "%")
}
