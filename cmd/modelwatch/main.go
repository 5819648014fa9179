package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "modelwatch",
		Short:         "Track trending AI models and repositories, keep per-task hotlists and publish a daily pick",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: from config)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text, json (default: from config)")

	root.AddCommand(fetchCmd())
	root.AddCommand(snapshotCmd())
	root.AddCommand(hotlistCmd())
	root.AddCommand(dailyCmd())
	root.AddCommand(runCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(aliasesCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(daemonCmd())

	return root
}

func fetchCmd() *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the model-hub and code-host listings and persist the corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(sources)
		},
	}

	cmd.Flags().StringSliceVar(&sources, "source", nil, "specific sources to fetch (e.g., github,hf)")
	return cmd
}

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Record today's metric snapshot from the persisted corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage("snapshot")
		},
	}
}

func hotlistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hotlist",
		Short: "Score, classify and append to every hotlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage("hotlist")
		},
	}
}

func dailyCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Select, summarize and publish today's diverse picks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaily(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run snapshot, hotlist, daily and audit in sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage("run")
		},
	}
}

func auditCmd() *cobra.Command {
	var (
		jsonOutput bool
		minCount   int
		failOnMiss bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report hotlist buckets below the coverage minimum",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(jsonOutput, minCount, failOnMiss, cmd.Flags().Changed("fail-on-miss"))
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&minCount, "min", 0, "minimum entries per bucket (default: from config)")
	cmd.Flags().BoolVar(&failOnMiss, "fail-on-miss", false, "exit non-zero when any bucket is underfilled")
	return cmd
}

func aliasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aliases",
		Short: "Manage task alias tables",
	}

	var apply bool
	suggest := &cobra.Command{
		Use:   "suggest",
		Short: "Write staged alias suggestions from heuristics and the classified corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuggestAliases(apply)
		},
	}
	suggest.Flags().BoolVar(&apply, "apply", false, "merge suggestions into the curated file's staged section (a backup is written first)")

	cmd.AddCommand(suggest)
	return cmd
}

func runsCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(jsonOutput, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to show")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func daemonCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start the scheduler (weekly fetch, daily run) and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
