// Command mrta runs task-allocation-and-repair experiments: it repeats trials
// across datasets, approaches, and seeds, and records their outcomes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/elektrokombinacija/mrta-research/internal/experiment"
)

func main() {
	root := &cobra.Command{
		Use:           "mrta",
		Short:         "Multi-robot task allocation and repair experiments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), approachesCmd(), trialsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var cfgPath string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the experiment campaign described by a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := experiment.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			store, err := experiment.OpenStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			logger.Info("campaign starting", zap.String("config", cfg.Path))
			fmt.Printf("running %s\n", cfg.Describe())

			runner := experiment.NewRunner(cfg, store, logger)
			summary, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("trials: %d, succeeded: %d, failed: %d\n",
				summary.Trials, summary.Succeeded, summary.Failed)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "experiment.toml", "experiment config file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func approachesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approaches",
		Short: "List valid approach strings",
		Run: func(cmd *cobra.Command, args []string) {
			for _, a := range experiment.Approaches() {
				fmt.Println(a)
			}
		},
	}
}

func trialsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "trials <dataset>",
		Short: "Show recorded trial outcomes for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := experiment.OpenStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			trials, err := store.Trials(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, t := range trials {
				status := "ok"
				if !t.Success {
					status = "FAILED"
				}
				fmt.Printf("%s  %-45s seed=%-6d %-6s makespan=%.1f repairs=%d misses=%d\n",
					t.RunID[:8], t.Approach, t.Seed, status, t.Makespan,
					t.RepairsCommitted, t.DeadlineMisses)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "results.db", "results database")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
