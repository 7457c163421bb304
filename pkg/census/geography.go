package census

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// GeoUnit addresses one query. An empty Tract means all tracts of the county.
type GeoUnit struct {
	State  string
	County string
	Tract  string
	Name   string
}

// String returns a compact form for logs, e.g. "state:01 county:001".
func (u GeoUnit) String() string {
	s := "state:" + u.State + " county:" + u.County
	if u.Tract != "" {
		s += " tract:" + u.Tract
	}
	return s
}

// InClause returns the "in" predicate selecting every block group of the unit.
func (u GeoUnit) InClause() string {
	tract := u.Tract
	if tract == "" {
		tract = "*"
	}
	return "state:" + u.State + " county:" + u.County + " tract:" + tract
}

// Geography is the read-only list of units queried for every group,
// ordered by state then county.
type Geography struct {
	units []GeoUnit
}

// NewGeography sorts units into query order.
func NewGeography(units []GeoUnit) *Geography {
	sorted := make([]GeoUnit, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.State != b.State {
			return a.State < b.State
		}
		if a.County != b.County {
			return a.County < b.County
		}
		return a.Tract < b.Tract
	})
	return &Geography{units: sorted}
}

// Units returns the units in query order.
func (g *Geography) Units() []GeoUnit {
	out := make([]GeoUnit, len(g.units))
	copy(out, g.units)
	return out
}

// Len returns the number of units.
func (g *Geography) Len() int {
	return len(g.units)
}

// LoadGeography lists the counties of every state, querying up to
// concurrency states at a time. Any failure aborts the load.
func LoadGeography(ctx context.Context, api API, ds Dataset, states []State, concurrency int) (*Geography, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu    sync.Mutex
		units []GeoUnit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, st := range states {
		g.Go(func() error {
			counties, err := loadCounties(gctx, api, ds, st)
			if err != nil {
				return err
			}
			mu.Lock()
			units = append(units, counties...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewGeography(units), nil
}

func loadCounties(ctx context.Context, api API, ds Dataset, st State) ([]GeoUnit, error) {
	query := url.Values{}
	query.Set("get", "NAME")
	query.Set("for", "county:*")
	query.Set("in", "state:"+st.FIPS)

	data, err := api.GetJSON(ctx, ds.Endpoint(), query)
	if err != nil {
		return nil, fmt.Errorf("list counties of %s: %w", st.Name, err)
	}

	rows, err := ParseRows(data)
	if err != nil {
		return nil, fmt.Errorf("list counties of %s: %w", st.Name, err)
	}

	units := make([]GeoUnit, 0, len(rows))
	for _, row := range rows {
		if row["county"] == "" {
			return nil, fmt.Errorf("list counties of %s: %w: row without county", st.Name, ErrMalformedResponse)
		}
		state := row["state"]
		if state == "" {
			state = st.FIPS
		}
		units = append(units, GeoUnit{State: state, County: row["county"], Name: row["NAME"]})
	}

	log.Debug().
		Str("state", st.FIPS).
		Int("counties", len(units)).
		Msg("Counties loaded")

	return units, nil
}

// Reference is the read-only lookup state shared by every group task.
type Reference struct {
	Dataset   Dataset
	Catalog   *Catalog
	Geography *Geography
}

// LoadConfig selects what Load fetches.
type LoadConfig struct {
	Dataset     Dataset
	States      []State
	Concurrency int
}

// Load fetches the catalog and the geography concurrently.
func Load(ctx context.Context, api API, cfg LoadConfig) (*Reference, error) {
	ref := &Reference{Dataset: cfg.Dataset}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cat, err := LoadCatalog(gctx, api, cfg.Dataset)
		if err != nil {
			return err
		}
		ref.Catalog = cat
		return nil
	})
	g.Go(func() error {
		geo, err := LoadGeography(gctx, api, cfg.Dataset, cfg.States, cfg.Concurrency)
		if err != nil {
			return err
		}
		ref.Geography = geo
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}

	log.Info().
		Str("dataset", cfg.Dataset.String()).
		Int("variables", ref.Catalog.Len()).
		Int("groups", len(ref.Catalog.Groups())).
		Int("counties", ref.Geography.Len()).
		Msg("Reference data loaded")

	return ref, nil
}
