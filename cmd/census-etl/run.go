package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/census-etl/internal/config"
	"github.com/Sternrassler/census-etl/pkg/census"
	"github.com/Sternrassler/census-etl/pkg/logging"
	"github.com/Sternrassler/census-etl/pkg/pipeline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *options) *cobra.Command {
	var (
		states       []string
		sinkKind     string
		outDir       string
		concurrency  int
		allowPartial bool
		failFast     bool
		includePR    bool
		statusAddr   string
	)

	cmd := &cobra.Command{
		Use:   "run [group...]",
		Short: "Fetch the selected groups and write one table per group",
		Long: `Fetch every block group of the selected states for the selected variable
groups and write one table per group to the sink. Without arguments every
group of the dataset is processed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			flags := cmd.Flags()

			if len(args) > 0 {
				cfg.Fetch.Groups = args
			}
			if flags.Changed("states") {
				cfg.Census.States = states
			}
			if flags.Changed("include-pr") {
				cfg.Census.IncludePuertoRico = includePR
			}
			if flags.Changed("sink") {
				cfg.Output.Sink = sinkKind
			}
			if flags.Changed("out") {
				cfg.Output.Dir = outDir
			}
			if flags.Changed("concurrency") {
				cfg.Fetch.Concurrency = concurrency
			}
			if flags.Changed("allow-partial") {
				cfg.Fetch.AllowPartial = allowPartial
			}
			if flags.Changed("fail-fast") {
				cfg.Fetch.FailFast = failFast
			}
			if flags.Changed("status-addr") {
				cfg.Server.Addr = statusAddr
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runETL(ctx, cfg, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&states, "states", nil, "states to extract (FIPS, abbreviation or name)")
	f.BoolVar(&includePR, "include-pr", false, "include Puerto Rico when no states are given")
	f.StringVar(&sinkKind, "sink", "", "output sink: csv, postgres, memory, none")
	f.StringVarP(&outDir, "out", "o", "", "output directory for the csv sink")
	f.IntVar(&concurrency, "concurrency", 0, "groups processed in parallel")
	f.BoolVar(&allowPartial, "allow-partial", false, "write tables of groups with failed units")
	f.BoolVar(&failFast, "fail-fast", false, "stop a group at its first failed unit")
	f.StringVar(&statusAddr, "status-addr", "", "listen address of the status server (e.g. :8080)")

	return cmd
}

// runETL loads the reference data, runs every selected group through the
// pipeline and prints the report.
func runETL(ctx context.Context, cfg *config.Config, w io.Writer) error {
	logger := logging.NewLogger("census-etl")
	logger.Info().Str("config", cfg.String()).Msg("Starting census-etl")

	api, rdb, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer api.Close()
	if rdb != nil {
		defer rdb.Close()
	}

	st := newStatus(rdb)
	if cfg.Server.Addr != "" {
		srv := startStatusServer(cfg.Server.Addr, st, logger)
		defer shutdownStatusServer(srv, cfg.Server.ShutdownTimeout, logger)
	}

	states, err := cfg.States()
	if err != nil {
		return err
	}

	ref, err := census.Load(ctx, api, census.LoadConfig{
		Dataset:     cfg.Dataset(),
		States:      states,
		Concurrency: cfg.Fetch.Concurrency,
	})
	if err != nil {
		return err
	}

	groups, err := selectGroups(ref.Catalog, cfg.Fetch.Groups)
	if err != nil {
		return err
	}

	runID := uuid.New()
	out, closeSink, err := openSink(ctx, cfg, runID)
	if err != nil {
		return err
	}
	defer closeSink()

	fetcher := census.NewGroupFetcher(api, ref, cfg.FetcherConfig())
	runner := pipeline.NewRunnerWithID(runID, fetcher, ref.Catalog, out, pipeline.Config{
		MaxConcurrency: cfg.Fetch.Concurrency,
		AllowPartial:   cfg.Fetch.AllowPartial,
		GroupTimeout:   cfg.Fetch.GroupTimeout,
	})
	st.setRunner(runner)

	report, runErr := runner.Run(ctx, groups)
	printReport(w, report)
	return runErr
}

// printReport writes one line per group and a summary.
func printReport(w io.Writer, report *pipeline.Report) {
	if report == nil {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tSTATUS\tROWS\tFAILED UNITS\tDURATION")
	for _, res := range report.Results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			res.Group, res.Status, res.Rows, len(res.Failures), res.Duration.Round(time.Millisecond))
	}
	tw.Flush()

	fmt.Fprintf(w, "\nrun %s: %d succeeded, %d partial, %d failed, %d skipped, %d cancelled, %d rows written in %s\n",
		report.RunID,
		report.Count(pipeline.StatusSucceeded),
		report.Count(pipeline.StatusPartial),
		report.Count(pipeline.StatusFailed),
		report.Count(pipeline.StatusSkipped),
		report.Count(pipeline.StatusCancelled),
		report.Rows(),
		report.Duration().Round(time.Millisecond))
}
