package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sthembisoo/api-error-monitor/cmd/extract"
	"github.com/sthembisoo/api-error-monitor/cmd/replay"
	"github.com/sthembisoo/api-error-monitor/cmd/reports"
	"github.com/sthembisoo/api-error-monitor/cmd/serve"
	"github.com/sthembisoo/api-error-monitor/monitor/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "api-error-monitor",
	Short:        "Capture, explain and deliver API deserialization failures",
	SilenceUsage: true,
}

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("API_MONITOR_CONFIG"), "Config file (.yaml, .yml or .toml)")

	load := func() (config.Config, error) { return config.Load(configPath) }
	// extract needs no app name, so it skips validation.
	read := func() (config.Config, error) { return config.Read(configPath) }

	rootCmd.AddCommand(serve.NewCmdServe(load))
	rootCmd.AddCommand(reports.NewCmdReports(load))
	rootCmd.AddCommand(replay.NewCmdReplay(load))
	rootCmd.AddCommand(extract.NewCmdExtract(read))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
