package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/offscreen/internal/config"
	"github.com/breeze-rmm/offscreen/internal/overlay"
	"github.com/breeze-rmm/offscreen/internal/shm"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "osr-host",
	Short: "Off-screen frame host",
	Long:  `osr-host renders a page off screen and ships damage-limited frames to an overlay consumer over shared memory`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start producing frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost()
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check shared memory and the overlay transport",
	RunE: func(cmd *cobra.Command, args []string) error {
		return probe()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("osr-host v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/osr-host/osr-host.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the config. Clamped values are reported on
// stderr; fatal problems are returned.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	res := cfg.ValidateTiered()
	for _, e := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %v\n", e)
	}
	if res.HasFatals() {
		return nil, fmt.Errorf("invalid config: %v", res.Fatals)
	}
	return cfg, nil
}

func probe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	region, err := shm.NewUnsafe(4096)
	if err != nil {
		fmt.Printf("shared memory:  unavailable (%v)\n", err)
	} else {
		region.Close()
		fmt.Println("shared memory:  ok")
	}

	ch := overlay.NewChannel(overlay.Options{
		Module:        cfg.Overlay.Module,
		Symbol:        cfg.Overlay.Symbol,
		RecordVersion: uint32(cfg.Overlay.RecordVersion),
	})
	ok, err := ch.Available()
	switch {
	case ok:
		fmt.Printf("transport:      %s!%s resolved (record v%d)\n", cfg.Overlay.Module, cfg.Overlay.Symbol, cfg.Overlay.RecordVersion)
	case err != nil:
		fmt.Printf("transport:      unavailable (%v)\n", err)
	default:
		fmt.Println("transport:      unavailable")
	}
	return nil
}
