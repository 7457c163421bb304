package census

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/census-etl/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxVariablesPerQuery is the Census API limit on variables in one "get".
const MaxVariablesPerQuery = 50

// ErrEmptyGroup is returned when a group has no variables in the catalog.
var ErrEmptyGroup = errors.New("group has no variables")

var (
	censusUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "census_units_total",
		Help: "Geographic unit queries by outcome (ok, empty, failed)",
	}, []string{"outcome"})

	censusRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "census_rows_total",
		Help: "Block group rows fetched",
	})
)

// FetcherConfig controls how a group is fetched.
type FetcherConfig struct {
	// MaxVariablesPerQuery splits large groups into several queries per unit
	MaxVariablesPerQuery int

	// FailFast stops a group at the first failed unit
	FailFast bool
}

// DefaultFetcherConfig returns the default fetcher configuration.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		MaxVariablesPerQuery: MaxVariablesPerQuery,
		FailFast:             false,
	}
}

// UnitError is a unit that could not be fetched.
type UnitError struct {
	Unit GeoUnit
	Err  error
}

// Error implements the error interface.
func (e UnitError) Error() string {
	return e.Unit.String() + ": " + e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e UnitError) Unwrap() error {
	return e.Err
}

// FetchError reports the units of a group that failed terminally.
type FetchError struct {
	Group    string
	Units    int
	Failures []UnitError
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("group %s: %d of %d units failed", e.Group, len(e.Failures), e.Units)
	if len(e.Failures) > 0 {
		msg += ": " + e.Failures[0].Error()
	}
	return msg
}

// Unwrap returns the unit errors so errors.Is/As can inspect them.
func (e *FetchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// GroupData is everything fetched for one group: one batch per unit that
// answered, in geography order.
type GroupData struct {
	Group    string
	IDs      []string
	Batches  [][]Row
	Failures []UnitError
}

// Rows returns the total number of rows across batches.
func (d *GroupData) Rows() int {
	n := 0
	for _, b := range d.Batches {
		n += len(b)
	}
	return n
}

// GroupFetcher queries every unit of the geography for one variable group.
// It holds no mutable state and may be shared by concurrent tasks.
type GroupFetcher struct {
	api    API
	ref    *Reference
	config FetcherConfig
	logger zerolog.Logger
}

// NewGroupFetcher creates a fetcher over the reference data.
func NewGroupFetcher(api API, ref *Reference, config FetcherConfig) *GroupFetcher {
	if config.MaxVariablesPerQuery <= 0 || config.MaxVariablesPerQuery > MaxVariablesPerQuery {
		config.MaxVariablesPerQuery = MaxVariablesPerQuery
	}
	return &GroupFetcher{
		api:    api,
		ref:    ref,
		config: config,
		logger: log.With().Str("component", "group-fetcher").Logger(),
	}
}

// Fetch queries every unit for the variables of group. Units are queried
// sequentially. Units that fail terminally are skipped and reported through
// a *FetchError next to the partial data. A cancelled context stops the
// fetch.
func (f *GroupFetcher) Fetch(ctx context.Context, group string) (*GroupData, error) {
	ids := f.ref.Catalog.Group(group)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyGroup, group)
	}

	units := f.ref.Geography.Units()
	data := &GroupData{
		Group:   group,
		IDs:     ids,
		Batches: make([][]Row, 0, len(units)),
	}

	start := time.Now()
	logger := f.logger.With().Str("group", group).Logger()
	logger.Debug().
		Int("variables", len(ids)).
		Int("units", len(units)).
		Msg("Fetching group")

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return data, fmt.Errorf("fetch group %s: %w", group, err)
		}

		rows, err := f.FetchUnit(ctx, ids, unit)
		if err != nil {
			if ctx.Err() != nil {
				return data, fmt.Errorf("fetch group %s: %w", group, err)
			}

			censusUnitsTotal.WithLabelValues("failed").Inc()
			logger.Error().
				Err(err).
				Str("state", unit.State).
				Str("county", unit.County).
				Str("error_class", string(client.ClassOf(err))).
				Msg("Unit failed, skipping")

			data.Failures = append(data.Failures, UnitError{Unit: unit, Err: err})
			if f.config.FailFast {
				break
			}
			continue
		}

		if len(rows) == 0 {
			censusUnitsTotal.WithLabelValues("empty").Inc()
		} else {
			censusUnitsTotal.WithLabelValues("ok").Inc()
			censusRowsTotal.Add(float64(len(rows)))
		}
		data.Batches = append(data.Batches, rows)
	}

	logger.Info().
		Int("rows", data.Rows()).
		Int("failed_units", len(data.Failures)).
		Dur("duration", time.Since(start)).
		Msg("Group fetched")

	if len(data.Failures) > 0 {
		return data, &FetchError{Group: group, Units: len(units), Failures: data.Failures}
	}
	return data, nil
}

// FetchUnit queries ids for every block group of unit, one query per chunk
// of at most MaxVariablesPerQuery IDs, and merges the chunks into one row
// per block group.
func (f *GroupFetcher) FetchUnit(ctx context.Context, ids []string, unit GeoUnit) ([]Row, error) {
	var (
		merged []Row
		index  = map[string]int{}
	)

	for _, chunk := range chunkIDs(ids, f.config.MaxVariablesPerQuery) {
		query := url.Values{}
		query.Set("get", strings.Join(chunk, ","))
		query.Set("for", "block group:*")
		query.Set("in", unit.InClause())

		body, err := f.api.GetJSON(ctx, f.ref.Dataset.Endpoint(), query)
		if err != nil {
			return nil, err
		}

		rows, err := ParseRows(body)
		if err != nil {
			return nil, &client.APIError{
				StatusCode: 200,
				ErrorClass: client.ErrorClassDecode,
				Message:    "parse block group rows",
				Err:        err,
			}
		}

		for _, row := range rows {
			key := geoKey(row)
			if i, ok := index[key]; ok {
				for k, v := range row {
					merged[i][k] = v
				}
				continue
			}
			index[key] = len(merged)
			merged = append(merged, row)
		}
	}

	return merged, nil
}

// chunkIDs splits ids into slices of at most size elements.
func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

func geoKey(row Row) string {
	return row["state"] + "|" + row["county"] + "|" + row["tract"] + "|" + row["block group"]
}
