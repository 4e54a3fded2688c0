package main

import (
	"github.com/spf13/cobra"

	"github.com/koustreak/ossgate/internal/config"
	"github.com/koustreak/ossgate/internal/logger"
)

const defaultConfigPath = "ossgate.yaml"

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
		logLevel   string
		a          *app
	)

	// load is shared by every subcommand; it runs once per invocation.
	load := func(cmd *cobra.Command, _ []string) error {
		if !needsConfig(cmd) {
			return nil
		}
		cfg, err := config.LoadWithEnvFile(configPath, envFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		log := logger.New(&cfg.Log)

		a, err = newApp(cfg, log)
		if err != nil {
			return err
		}
		cmd.SetContext(log.WithContext(cmd.Context()))
		return nil
	}
	get := func() *app { return a }

	root := &cobra.Command{
		Use:   "ossgate",
		Short: "Direct-upload gateway for object storage buckets",
		Long: `ossgate signs browser upload policies, lists bucket directories,
issues temporary URLs and records the upload callbacks the storage
service sends back.`,
		SilenceUsage:      true,
		PersistentPreRunE: load,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with OSSGATE_* secrets")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(get),
		newMigrateCmd(get),
		newListCmd(get),
		newURLCmd(get),
		newPolicyCmd(get),
	)
	return root
}

// needsConfig is false for cobra's built-in help and completion commands.
func needsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd, "completion":
			return false
		}
	}
	return true
}
