// Command census-etl extracts ACS block group tables from the Census Data API.
package main

import (
	"os"

	"github.com/Sternrassler/census-etl/internal/config"
	"github.com/Sternrassler/census-etl/pkg/logging"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options holds the persistent flags and the configuration they produce.
type options struct {
	configPath string
	logLevel   string
	logPretty  bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "census-etl",
		Short:        "Extract ACS block group tables from the Census Data API",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&opts.logPretty, "log-pretty", false, "human-readable console logs")

	root.AddCommand(
		newRunCmd(opts),
		newGroupsCmd(opts),
		newVariablesCmd(opts),
		newGeographyCmd(opts),
	)
	return root
}

// load reads .env files, the config file and the environment, then applies
// the logging flags and configures the global logger.
func (o *options) load(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		return err
	}

	cfg, err := config.Read(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if flags.Changed("log-pretty") {
		cfg.Logging.Pretty = o.logPretty
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})

	o.cfg = cfg
	return nil
}
