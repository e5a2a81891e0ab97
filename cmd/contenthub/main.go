package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"contenthub.org/internal/apiclient"
	"contenthub.org/internal/config"
	"contenthub.org/internal/obs"
)

var (
	configPath string
	logLevel   string
	app        *application

	rootCmd = &cobra.Command{
		Use:           "contenthub",
		Short:         "Command-line client for the ContentHub API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			logger, err := obs.NewLogger(cfg.Log.Level)
			if err != nil {
				return err
			}
			obs.SetLogger(logger)

			app, err = newApplication(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			_ = obs.Logger().Sync()
			if app == nil {
				return nil
			}
			return app.Close()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONTENTHUB_CONFIG"), "path to YAML config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(authCommands()...)
	rootCmd.AddCommand(
		resourceCommand("posts", "Short user posts", postsStore, true),
		resourceCommand("blogs", "Long-form articles", blogsStore, true),
		resourceCommand("comments", "Comments on posts", commentsStore, true),
		resourceCommand("events", "Scheduled meetups", eventsStore, false),
		resourceCommand("experts", "Expert profiles", expertsStore, false),
		publicCommand(),
		uploadCommand(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", apiclient.FormatError(err))
		if app != nil {
			_ = app.Close()
		}
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
