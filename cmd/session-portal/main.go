package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/openkcm/common-sdk/pkg/utils"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-portal/internal/business"
	"github.com/openkcm/session-portal/internal/cmdutils"
)

var (
	// BuildInfo will be set by the build system
	BuildInfo = "{}"

	isVersionCmd     bool
	gracefulShutdown time.Duration
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Session Portal Version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		isVersionCmd = true

		value, err := utils.ExtractFromComplexValue(BuildInfo)
		if err != nil {
			return err
		}

		slog.InfoContext(cmd.Context(), value)

		return nil
	},
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session-portal",
		Short: "Session Portal",
		Long:  "Local portal driving the browser login, callback and logout against the application backend.",
	}

	cmd.PersistentFlags().DurationVar(&gracefulShutdown, "graceful-shutdown", 1*time.Second, "graceful shutdown")

	cmd.AddCommand(
		versionCmd,
		cmdutils.CobraCommand(
			"serve",
			"Serve the portal",
			"Restores the stored session and serves the login, callback, dashboard and logout routes.",
			BuildInfo,
			cmdutils.RunAsService,
			business.Main,
		),
		cmdutils.CobraCommand(
			"migrate",
			"Session Portal migrations",
			"Applies the schema of the configured durable token store.",
			BuildInfo,
			cmdutils.RunAsJob,
			business.MigrateMain,
		),
		cmdutils.CobraCommand(
			"status",
			"Report the stored session",
			"Validates the stored token pair the same way the portal does at startup and reports the resulting status.",
			BuildInfo,
			cmdutils.RunAsJob,
			business.StatusMain,
		),
		cmdutils.CobraCommand(
			"logout",
			"Sign out without a browser",
			"Clears the stored token pair and ends the backend session.",
			BuildInfo,
			cmdutils.RunAsJob,
			business.LogoutMain,
		),
	)

	return cmd
}

func execute() error {
	ctx, cancelOnSignal := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancelOnSignal()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		slogctx.Error(ctx, "failed to start the application", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, err)

		return err
	}

	if !isVersionCmd {
		_, _ = fmt.Fprintf(os.Stderr, "Graceful shutdown in %s\n", gracefulShutdown)
		time.Sleep(gracefulShutdown)
	}

	return nil
}

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}
