package cmd

import (
	"fmt"
	"os"

	"consogab/config"
	"consogab/logger"

	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "consogab",
	Short: "ConsoGab messaging backend",
	Long: `ConsoGab serves the conversation, message and read state API together
with the realtime push channel the mobile clients subscribe to.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (optional)")
}

// setup loads the configuration, configures logging and opens the database.
func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	// 初始化数据库
	if _, err := config.InitDB(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
