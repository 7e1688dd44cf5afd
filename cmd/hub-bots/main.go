package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"apphub.local/matrix-bots/internal/config"
	"apphub.local/matrix-bots/internal/logging"
)

type cliState struct {
	cfg config.Config
	log zerolog.Logger
}

var rt cliState

var rootCmd = &cobra.Command{
	Use:   "hub-bots",
	Short: "Run the App Hub Matrix bots",
	Long: `hub-bots runs one Matrix bot per registered hub app and answers
room messages with the configured AI provider.

Configuration is read from .env, an optional hub-bots.yaml, and the
environment, in increasing order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		rt = cliState{cfg: cfg, log: logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "path to a .env file (missing is fine)")
	rootCmd.AddCommand(serveCmd, appsCmd, resetCmd, promptCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
