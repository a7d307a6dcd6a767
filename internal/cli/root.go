// Package cli wires configuration, storage and services into the cervicel commands.
package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cervicel-cytology-server/internal/config"
	"github.com/cervicel-cytology-server/internal/domain"
	"github.com/cervicel-cytology-server/internal/logging"
)

var (
	// Version, Commit, and BuildDate are set at build time via ldflags.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// app carries the state shared by every subcommand once configuration is loaded.
type app struct {
	configFile string
	envFile    string
	verbose    bool

	config *domain.Config
	logger *logrus.Logger
}

// NewRootCommand builds the cervicel command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cervicel",
		Short: "Cervical cytology interpretation server",
		Long: `cervicel classifies cervical smear images with an external model server,
aggregates the cell counts and interprets them against age, cycle phase and
clinical condition to produce an archived hormonal-status report.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file (default: search ., ./config, /etc/cervicel)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCommand(a),
		newMCPCommand(a),
		newInterpretCommand(a),
		newExportCommand(a),
		newImportCommand(a),
		newSetupCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func (a *app) load() error {
	var opts []config.Option
	if a.configFile != "" {
		opts = append(opts, config.WithConfigFile(a.configFile))
	}
	opts = append(opts, config.WithEnvFile(a.envFile))

	manager, err := config.NewManager(opts...)
	if err != nil {
		return err
	}
	if err := manager.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := manager.GetConfig()
	if a.verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}

	a.config = cfg
	a.logger = logger

	logger.WithFields(logrus.Fields{
		"version":     Version,
		"environment": cfg.Environment,
		"config_file": manager.ConfigFileUsed(),
		"store":       cfg.Database.Driver,
	}).Debug("Configuration loaded")
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Skip configuration loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cervicel %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}
