package config

import (
	"os"
	"path/filepath"
)

// CLIEnvPrefix prefixes every environment override read by the CLI.
const CLIEnvPrefix = "WEBHOOKS"

// CLIConfigDir returns the directory holding the CLI config file.
// $WEBHOOKS_CONFIG_DIR wins; otherwise $HOME/.webhooks is used.
func CLIConfigDir() string {
	if dir := os.Getenv(CLIEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".webhooks")
}
