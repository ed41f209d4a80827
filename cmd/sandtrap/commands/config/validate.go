package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandtrap-io/sandtrap/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the sandtrap configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  sandtrap config validate

  # Validate specific config file
  sandtrap config validate --config /etc/sandtrap/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if !cfg.ControlPlane.IsEnabled() {
		warnings = append(warnings, "control API disabled - the scheduler cannot register tasks")
	}
	if cfg.ResultServer.UploadMaxSize == 0 {
		warnings = append(warnings, "upload size cap disabled - a misbehaving VM can fill the disk")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Result server:   %s:%d\n", cfg.ResultServer.IP, cfg.ResultServer.Port)
	fmt.Printf("  Storage root:    %s\n", cfg.Storage.Analyses)
	fmt.Printf("  Control API:     %s:%d\n", cfg.ControlPlane.Host, cfg.ControlPlane.Port)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)

	return nil
}
