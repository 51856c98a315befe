package replay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/sthembisoo/api-error-monitor/monitor"
	"github.com/sthembisoo/api-error-monitor/monitor/config"
	"github.com/sthembisoo/api-error-monitor/monitor/types"
	"github.com/sthembisoo/api-error-monitor/utils/logging"
)

type options struct {
	endpoint string
	since    time.Duration
	clear    bool
	jsonOut  bool
}

func NewCmdReplay(load config.Loader) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Redeliver stored reports to the configured sinks",
		Long: `Redeliver stored reports to the configured sinks.

Every matching report in the local store goes through the retry queue, so each one
gets the configured number of attempts with the usual back-off.

Examples:
  # Redeliver everything
  api-error-monitor replay

  # Only the last hour, for one endpoint, then empty the store
  api-error-monitor replay --since 1h --endpoint /v1/products --clear`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return run(cmd, cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.endpoint, "endpoint", "e", "", "Only replay reports for this endpoint")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "Only replay reports newer than this (e.g. 30m)")
	cmd.Flags().BoolVar(&opts.clear, "clear", false, "Clear the store when every stored report was replayed and delivered")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the result as JSON")

	return cmd
}

func run(cmd *cobra.Command, cfg config.Config, opts *options) error {
	if !cfg.EnableLocalStorage {
		return fmt.Errorf("local storage is disabled: nothing to replay")
	}

	m, err := monitor.Open(cfg, logging.Must(cfg.Debug))
	if err != nil {
		return err
	}
	defer m.Close()

	reports, err := m.Store().ListAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	cutoff := time.Time{}
	if opts.since > 0 {
		cutoff = time.Now().Add(-opts.since)
	}
	selected := lo.Filter(reports, func(r types.ApiErrorReport, _ int) bool {
		if opts.endpoint != "" && r.Endpoint != opts.endpoint {
			return false
		}
		return r.Timestamp.After(cutoff)
	})

	out := cmd.OutOrStdout()
	if len(selected) == 0 {
		fmt.Fprintln(out, "No reports to replay.")
		return nil
	}

	// Oldest first so the sink sees reports in the order they happened.
	for i := len(selected) - 1; i >= 0; i-- {
		m.Enqueue(selected[i])
	}

	res, err := m.Drain(cmd.Context())
	if err != nil {
		return err
	}

	if opts.clear && res.Dropped == 0 && len(selected) == len(reports) {
		if err := m.Store().ClearAll(cmd.Context()); err != nil {
			return fmt.Errorf("failed to clear reports: %w", err)
		}
	}

	if opts.jsonOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	fmt.Fprintf(out, "Delivered %d, dropped %d of %d report(s)\n", res.Delivered, res.Dropped, len(selected))
	return nil
}
