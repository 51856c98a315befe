package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/sthembisoo/api-error-monitor/monitor/config"
	"github.com/sthembisoo/api-error-monitor/monitor/forensics"
	"github.com/sthembisoo/api-error-monitor/monitor/store"
	"github.com/sthembisoo/api-error-monitor/monitor/types"
	"github.com/sthembisoo/api-error-monitor/utils/logging"
)

const messageWidth = 80

var (
	kindColors = map[types.Kind]*color.Color{
		types.KindTypeMismatch: color.New(color.FgYellow, color.Bold),
		types.KindMissingKey:   color.New(color.FgRed, color.Bold),
		types.KindNullValue:    color.New(color.FgMagenta, color.Bold),
		types.KindNetwork:      color.New(color.FgBlue),
	}
	dimColor = color.New(color.Faint)
)

func NewCmdReports(load config.Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Inspect reports saved in the local store",
		Long: `Inspect reports saved in the local store.

Examples:
  # List every stored report, newest first
  api-error-monitor reports list

  # Only reports for one endpoint
  api-error-monitor reports list --endpoint /v1/products

  # Pick a report interactively and print it as JSON
  api-error-monitor reports show

  # Remove every stored report
  api-error-monitor reports clear`,
	}

	cmd.AddCommand(newCmdList(load))
	cmd.AddCommand(newCmdShow(load))
	cmd.AddCommand(newCmdClear(load))
	cmd.AddCommand(newCmdPath(load))

	return cmd
}

func newCmdList(load config.Loader) *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(load, func(st store.Store) error {
				reports, err := listReports(cmd.Context(), st, endpoint)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(reports) == 0 {
					fmt.Fprintln(out, "No reports found.")
					return nil
				}
				printReports(out, reports)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "", "Only list reports for this endpoint")
	return cmd
}

func newCmdShow(load config.Loader) *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "show [number]",
		Short: "Print one stored report as JSON",
		Long: `Print one stored report as JSON.

The number is the report's position in "reports list". Without it you are prompted to choose.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(load, func(st store.Store) error {
				reports, err := listReports(cmd.Context(), st, endpoint)
				if err != nil {
					return err
				}
				if len(reports) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No reports found.")
					return nil
				}

				var selected *types.ApiErrorReport
				if len(args) == 1 {
					selected, err = pickReport(reports, args[0])
				} else {
					selected, err = chooseReport(cmd.InOrStdin(), cmd.OutOrStdout(), reports)
				}
				if err != nil {
					return fmt.Errorf("error selecting report: %w", err)
				}

				data, err := json.MarshalIndent(selected, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal report: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "", "Only consider reports for this endpoint")
	return cmd
}

func newCmdClear(load config.Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every stored report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(load, func(st store.Store) error {
				reports, err := st.ListAll(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list reports: %w", err)
				}
				if err := st.ClearAll(cmd.Context()); err != nil {
					return fmt.Errorf("failed to clear reports: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d report(s) from %s\n", len(reports), st.DirectoryPath())
				return nil
			})
		},
	}
}

func newCmdPath(load config.Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print where reports are stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(load, func(st store.Store) error {
				fmt.Fprintln(cmd.OutOrStdout(), st.DirectoryPath())
				return nil
			})
		},
	}
}

// withStore opens the configured store for the duration of fn.
func withStore(load config.Loader, fn func(store.Store) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg, logging.Must(cfg.Debug))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	return fn(st)
}

func listReports(ctx context.Context, st store.Store, endpoint string) ([]types.ApiErrorReport, error) {
	reports, err := st.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	if endpoint == "" {
		return reports, nil
	}
	return lo.Filter(reports, func(r types.ApiErrorReport, _ int) bool {
		return r.Endpoint == endpoint
	}), nil
}

func printReports(w io.Writer, reports []types.ApiErrorReport) {
	for i, r := range reports {
		fmt.Fprintf(w, "  %d. %s %s %s\n",
			i+1,
			dimColor.Sprint(r.Timestamp.Local().Format("2006-01-02 15:04:05")),
			kindLabel(r.Kind),
			r.Endpoint,
		)
		if field := fieldSummary(r); field != "" {
			fmt.Fprintf(w, "     %s\n", field)
		}
		fmt.Fprintf(w, "     %s\n", truncate(firstLine(r.ErrorMessage), messageWidth))
	}
}

func kindLabel(kind types.Kind) string {
	if kind == "" {
		kind = types.KindUnclassified
	}
	label := "[" + string(kind) + "]"
	if c, ok := kindColors[kind]; ok {
		return c.Sprint(label)
	}
	return label
}

// fieldSummary renders "key: expected <- received" for whatever parts are known.
func fieldSummary(r types.ApiErrorReport) string {
	var parts []string
	if r.Key != "" {
		parts = append(parts, "key "+r.Key)
	}
	switch {
	case r.ExpectedType != "" && r.ReceivedType != "":
		parts = append(parts, fmt.Sprintf("expected %s, got %s", r.ExpectedType, r.ReceivedType))
	case r.ExpectedType != "":
		parts = append(parts, "expected "+r.ExpectedType)
	case r.ReceivedType != "":
		parts = append(parts, "got "+r.ReceivedType)
	}
	return strings.Join(parts, ", ")
}

func firstLine(msg string) string {
	msg = forensics.StripStackLines(msg)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}

// truncate shortens s to width terminal cells, ending in "..." when cut.
func truncate(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}

func pickReport(reports []types.ApiErrorReport, arg string) (*types.ApiErrorReport, error) {
	selection, err := strconv.Atoi(arg)
	if err != nil {
		return nil, fmt.Errorf("invalid selection: %w", err)
	}
	if selection < 1 || selection > len(reports) {
		return nil, fmt.Errorf("selection out of range")
	}
	return &reports[selection-1], nil
}

// chooseReport prompts the user to select a report
func chooseReport(in io.Reader, out io.Writer, reports []types.ApiErrorReport) (*types.ApiErrorReport, error) {
	fmt.Fprintln(out, "Stored reports:")
	printReports(out, reports)

	var selection int
	fmt.Fprint(out, "\nSelect report number: ")
	if _, err := fmt.Fscanf(in, "%d", &selection); err != nil {
		return nil, fmt.Errorf("invalid selection: %w", err)
	}

	if selection < 1 || selection > len(reports) {
		return nil, fmt.Errorf("selection out of range")
	}

	return &reports[selection-1], nil
}
