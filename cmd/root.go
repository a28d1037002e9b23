package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/conference-central/internal/config"
	"github.com/Shivanand-hulikatti/conference-central/internal/logging"
)

var (
	cfgFile string
	cfg     config.Config
	logger  = zap.NewNop()
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "conference-central",
	Short: "Conference registration API",
	Long: `Conference Central lets users publish conferences, search them and
register for seats. Running without a subcommand starts the HTTP server.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./config.yaml when present)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("driver", "", "storage driver: memory or postgres")

	// Bind flags to viper
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("driver"))

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	logger, err = logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Info("loaded config", zap.String("file", used))
	}
	return nil
}
