package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "sessiond",
		Short: "Local service supervisor for the desktop shell",
		Long: `sessiond launches the local API and job runner, restarts them when they
crash, waits for the API to become healthy and shuts everything down on quit.

Examples:
  sessiond run --config=sessiond.toml
  sessiond status
  sessiond probe --url=http://127.0.0.1:8715/health --timeout=30s
  sessiond quit`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&global.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&global.ControlURL, "control-url", "", "control API base URL (default from config)")
	root.PersistentFlags().DurationVar(&global.Timeout, "timeout-api", defaultAPITimeout, "control API request timeout")

	root.AddCommand(
		createRunCommand(global, &RunFlags{}),
		createStatusCommand(global),
		createProbeCommand(&ProbeFlags{}),
		createQuitCommand(global),
		createActivateCommand(global),
		createInitCommand(&InitFlags{}),
	)
	return root
}

func createRunCommand(global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the session and supervise until quit",
		Long: `Start every configured process, wait for the API to report healthy and keep
the set running. Exits after SIGINT/SIGTERM or a quit request.

Examples:
  sessiond run
  sessiond run --profile=packaged --port=8800`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), *global, *flags, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&flags.Profile, "profile", "", "override profile (development|packaged)")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "override the shared API port")
	cmd.Flags().StringVar(&flags.DiagnosticPath, "diagnostic-page", "", "write the fallback page here when readiness fails")
	return cmd
}

func createStatusCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClientFor(*global)
			if err != nil {
				return err
			}
			return printStatus(cmd.Context(), c, cmd.OutOrStdout())
		},
	}
}

func createProbeCommand(flags *ProbeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Wait until a URL reports healthy",
		Long: `Poll a URL until it answers 2xx/3xx or the timeout elapses. Exits non-zero
on timeout.

Examples:
  sessiond probe --url=http://127.0.0.1:8715/health`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.URL, "url", "", "URL to poll (required)")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", defaultProbeTimeout, "overall deadline")
	cmd.Flags().DurationVar(&flags.Interval, "interval", 0, "delay between attempts (default 300ms)")
	if err := cmd.MarkFlagRequired("url"); err != nil {
		panic(err)
	}
	return cmd
}

func createQuitCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "quit",
		Short: "Ask a running session to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClientFor(*global)
			if err != nil {
				return err
			}
			if err := c.Quit(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
			return nil
		},
	}
}

func createActivateCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Restart whatever is not running in a live session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClientFor(*global)
			if err != nil {
				return err
			}
			if err := c.Activate(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "activated")
			return nil
		},
	}
}

func createInitCommand(flags *InitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write a starter TOML config for one of the supported templates
(development, packaged, minimal).

Examples:
  sessiond init --type=development --output=sessiond.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(*flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.Type, "type", "development", "template type")
	cmd.Flags().StringVar(&flags.Output, "output", "sessiond.toml", "output path (.toml)")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing file")
	return cmd
}
