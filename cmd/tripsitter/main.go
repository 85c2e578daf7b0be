package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// GlobalFlags holds persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// RunFlags holds overrides for the run/build commands. Zero values defer to
// the config file.
type RunFlags struct {
	Port      int
	SkipFetch bool
}

// APIFlags holds daemon connection flags for the remote commands.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// buildRoot creates the root command and wires the subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	apiFlags := &APIFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createBuildCommand(globalFlags, runFlags),
		createStatusCommand(apiFlags),
		createStopCommand(apiFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "tripsitter",
		Short: "Supervisor for the journey planning engine",
		Long: `Tripsitter builds routing graphs and supervises the journey planning
engine process: it fetches input data, runs the graph build, starts the
server and watches its output for readiness, errors and stalls.

Examples:
  tripsitter run --config=tripsitter.toml
  tripsitter build --config=tripsitter.toml
  tripsitter status --api-url=http://localhost:9090/api
  tripsitter stop --api-url=http://localhost:9090/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "tripsitter.toml", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")
	return root
}

func createRunCommand(global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the graph if needed, then serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(global, flags, false)
		},
	}
	cmd.Flags().IntVar(&flags.Port, "port", 0, "fixed server port (0 = dynamic)")
	cmd.Flags().BoolVar(&flags.SkipFetch, "skip-fetch", false, "assume input data is already on disk")
	return cmd
}

func createBuildCommand(global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Fetch input data and build the graph, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(global, flags, true)
		},
	}
	cmd.Flags().BoolVar(&flags.SkipFetch, "skip-fetch", false, "assume input data is already on disk")
	return cmd
}

func createStatusCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(flags.APIUrl, flags.APITimeout)
			return printStatus(cmd.OutOrStdout(), client)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStopCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the engine managed by a running supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(flags.APIUrl, flags.APITimeout)
			if err := client.Stop(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "engine stopped")
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "supervisor API base URL (default http://localhost:9090/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "API request timeout")
}
