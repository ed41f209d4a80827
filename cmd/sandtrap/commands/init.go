package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sandtrap-io/sandtrap/internal/cli/prompt"
	"github.com/sandtrap-io/sandtrap/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample sandtrap configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/sandtrap/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  sandtrap init

  # Initialize with custom path
  sandtrap init --config /etc/sandtrap/config.yaml

  # Force overwrite existing config
  sandtrap init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	target := configFile
	if target == "" {
		target = config.GetDefaultConfigPath()
	}

	// Ask before clobbering an existing config unless --force was given.
	force := initForce
	if _, err := os.Stat(target); err == nil && !force {
		ok, err := prompt.ConfirmWithForce(
			fmt.Sprintf("Config file already exists at %s. Overwrite?", target), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
		force = true
	}

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, force)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(force)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: sandtrap start")
	fmt.Printf("  3. Or specify custom config: sandtrap start --config %s\n", configPath)

	return nil
}
