package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ls1intum/Hephaestus-sub003/cli/pkg/output"
	"github.com/ls1intum/Hephaestus-sub003/common/config"
	"github.com/ls1intum/Hephaestus-sub003/common/logging"
)

var (
	cfgFile string
	v       = newViper()
	logger  = logging.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "GitHub webhook stream tools",
	Long: `webhooks works with the GitHub webhook deliveries stored in NATS JetStream.

Replay the stream and turn stored deliveries into JSON fixtures for tests.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.webhooks/config.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.BoolP("verbose", "v", false, "shorthand for --log-level debug")
	flags.StringP("output", "o", output.FormatTable, "output format: table, json, yaml")

	_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("output", flags.Lookup("output"))
}

func newViper() *viper.Viper {
	v := config.NewViper(config.CLIEnvPrefix)
	config.SetSharedDefaults(v, config.CLIEnvPrefix)

	// A one-shot tool should give up instead of reconnecting forever.
	v.SetDefault("nats.max_reconnects", 2)
	v.SetDefault("logging.format", "text")
	v.SetDefault("output", output.FormatTable)
	setExtractDefaults(v)
	return v
}

func initConfig(cmd *cobra.Command, args []string) error {
	if err := config.ReadConfigFile(v, cfgFile, config.CLIConfigDir()); err != nil {
		return err
	}

	format := v.GetString("output")
	if !output.ValidFormat(format) {
		return fmt.Errorf("unsupported output format %q (supported: table, json, yaml)", format)
	}

	level := logging.ParseLevel(v.GetString("logging.level"))
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	// stdout is reserved for command output
	logger = logging.NewWithWriter(os.Stderr, level, v.GetString("logging.format"))

	if file := v.ConfigFileUsed(); file != "" {
		logger.Debug("Loaded configuration", logging.File(file))
	}
	return nil
}
