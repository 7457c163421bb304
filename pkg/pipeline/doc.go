// Package pipeline runs the per-group ETL: fetch every unit of a variable
// group, assemble the table and hand it to a sink.
//
// Groups are independent. A fixed pool of workers takes groups from a queue,
// and one GroupResult per group is gathered into a Report:
//
//	runner := pipeline.NewRunner(fetcher, ref.Catalog, out, pipeline.DefaultConfig())
//	report, err := runner.Run(ctx, ref.Catalog.Groups())
//
// The runner:
//   - Runs MaxConcurrency groups at a time (units within a group are sequential)
//   - Writes complete tables to the sink; partial tables only with AllowPartial
//   - Records failed units per group instead of stalling on them
//   - Exposes live progress for the status server
//   - Stops taking new groups when the context is cancelled
package pipeline
