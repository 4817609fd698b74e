package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFlag   string
	logLevelFlag string
	jsonFlag     bool
	rootCmd      = &cobra.Command{
		Use:           "crm-pilot",
		Short:         "Headless field-sales CRM shell with reminders and search",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", os.Getenv("CRM_CONFIG"), "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override log level (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, reminder polling, chat bots and calendar mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	remindersCmd := &cobra.Command{
		Use:   "reminders",
		Short: "Print the reminders needing attention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReminders(cmd.Context(), cmd.OutOrStdout())
		},
	}
	remindersCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the full summary as JSON")

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search leads, suppliers, documents and activities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
	searchCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the results as JSON")

	rootCmd.AddCommand(serveCmd, remindersCmd, searchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
