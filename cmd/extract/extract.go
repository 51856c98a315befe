package extract

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/sthembisoo/api-error-monitor/monitor/config"
	"github.com/sthembisoo/api-error-monitor/monitor/forensics"
	"github.com/sthembisoo/api-error-monitor/monitor/types"
	"github.com/sthembisoo/api-error-monitor/utils/logging"
)

//go:embed result.tmpl
var resultTemplate string

type options struct {
	file      string
	stackFile string
	jsonOut   bool
	dev       bool
	roots     []string
}

func NewCmdExtract(load config.Loader) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract the JSON key and type pair from an error message",
		Long: `Extract the JSON key and type pair from an error message.

The error text is read from --file, or from stdin when no file is given.

Examples:
  # Paste an error and its stack trace
  api-error-monitor extract < crash.txt

  # Message and stack trace in separate files, JSON output
  api-error-monitor extract --file message.txt --stack trace.txt --json

  # Also read the source line a locator points at
  api-error-monitor extract --file crash.txt --dev --root ~/src/shop-app`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return run(cmd, cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "File containing the error message (default: stdin)")
	cmd.Flags().StringVarP(&opts.stackFile, "stack", "s", "", "File containing the stack trace")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "Enable the source-line lookup")
	cmd.Flags().StringSliceVar(&opts.roots, "root", nil, "Source search root for --dev (repeatable)")

	return cmd
}

// result is what the command prints.
type result struct {
	Kind   types.Kind         `json:"kind"`
	Info   types.ApiErrorInfo `json:"info"`
	Frames []types.StackFrame `json:"frames,omitempty"`
}

func run(cmd *cobra.Command, cfg config.Config, opts *options) error {
	message, err := readInput(cmd.InOrStdin(), opts.file)
	if err != nil {
		return err
	}
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("no error text given: use --file or pipe it on stdin")
	}

	var stack string
	if opts.stackFile != "" {
		data, err := os.ReadFile(opts.stackFile)
		if err != nil {
			return fmt.Errorf("failed to read stack trace: %w", err)
		}
		stack = string(data)
	}

	roots := cfg.SourceSearchRoots
	if len(opts.roots) > 0 {
		roots = opts.roots
	}
	extractor := forensics.NewExtractor(forensics.Options{
		DevMode:             opts.dev || cfg.DevMode,
		SourceSearchRoots:   roots,
		SourceLookupTimeout: cfg.SourceLookupTimeout,
		Logger:              logging.Must(cfg.Debug),
	})

	d := types.Diagnostic{
		Message:    strings.TrimSpace(message),
		StackTrace: strings.TrimSpace(stack),
		Kind:       forensics.ClassifyMessage(message),
	}
	res := result{
		Kind:   d.Kind,
		Info:   extractor.Extract(cmd.Context(), d),
		Frames: forensics.ParseFrames(d.Corpus()),
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	tmpl, err := template.New("result").Parse(resultTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse result template: %w", err)
	}
	if err := tmpl.Execute(out, res); err != nil {
		return fmt.Errorf("failed to execute result template: %w", err)
	}
	_, err = fmt.Fprintln(out)
	return err
}

func readInput(stdin io.Reader, path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read error file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}
