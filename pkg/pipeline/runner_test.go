package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/census-etl/internal/testutil"
	"github.com/Sternrassler/census-etl/pkg/census"
	"github.com/Sternrassler/census-etl/pkg/client"
	"github.com/Sternrassler/census-etl/pkg/ratelimit"
	"github.com/Sternrassler/census-etl/pkg/sink"
	"github.com/google/uuid"
)

// fakeFetcher returns canned data per group and tracks concurrency.
type fakeFetcher struct {
	mu          sync.Mutex
	errs        map[string]error
	delay       time.Duration
	inFlight    int
	maxInFlight int
	calls       []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, group string) (*census.GroupData, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.calls = append(f.calls, group)
	err := f.errs[group]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch group %s: %w", group, ctx.Err())
		}
	}

	if errors.Is(err, census.ErrEmptyGroup) {
		return nil, err
	}

	data := &census.GroupData{
		Group: group,
		IDs:   []string{group + "_001E"},
		Batches: [][]census.Row{{
			{group + "_001E": "7", "state": "01", "county": "001", "tract": "000100", "block group": "1"},
			{group + "_001E": "9", "state": "01", "county": "001", "tract": "000100", "block group": "2"},
		}},
	}

	var fetchErr *census.FetchError
	if errors.As(err, &fetchErr) {
		data.Failures = fetchErr.Failures
	}
	return data, err
}

func testCatalog(groups ...string) *census.Catalog {
	vars := make([]census.Variable, 0, len(groups))
	for _, g := range groups {
		vars = append(vars, census.Variable{ID: g + "_001E", Label: "Estimate!!Total", Group: g})
	}
	return census.NewCatalog(vars)
}

func partialError(group string) error {
	return &census.FetchError{
		Group: group,
		Units: 2,
		Failures: []census.UnitError{{
			Unit: census.GeoUnit{State: "01", County: "003"},
			Err:  &client.APIError{StatusCode: 400, ErrorClass: client.ErrorClassClient, Message: "bad"},
		}},
	}
}

// failingSink rejects every write.
type failingSink struct{}

func (failingSink) Write(ctx context.Context, table *census.Table) error {
	return errors.New("disk full")
}

func (failingSink) Close() error { return nil }

func TestRunner_AllGroupsWritten(t *testing.T) {
	groups := []string{"B01001", "B19013", "B25001"}
	fetcher := &fakeFetcher{}
	out := sink.NewMemorySink()

	runner := NewRunner(fetcher, testCatalog(groups...), out, DefaultConfig())
	report, err := runner.Run(context.Background(), groups)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if report.Count(StatusSucceeded) != 3 {
		t.Errorf("succeeded = %d, want 3", report.Count(StatusSucceeded))
	}
	if report.Rows() != 6 {
		t.Errorf("Rows() = %d, want 6", report.Rows())
	}
	for i, res := range report.Results {
		if res.Group != groups[i] {
			t.Errorf("result %d is %s, want %s (input order)", i, res.Group, groups[i])
		}
		if !res.Written {
			t.Errorf("%s not written", res.Group)
		}
	}

	table, ok := out.Table("B19013")
	if !ok {
		t.Fatal("B19013 missing from sink")
	}
	want := []string{"estimate-total", "state", "county", "tract", "block group"}
	for i, c := range want {
		if table.Columns[i] != c {
			t.Errorf("column %d = %q, want %q", i, table.Columns[i], c)
		}
	}

	if report.RunID != runner.RunID() {
		t.Error("report must carry the runner's run ID")
	}
	if report.Duration() < 0 {
		t.Errorf("Duration() = %v", report.Duration())
	}

	p := runner.Progress()
	if !p.Finished || p.Done != 3 || p.Total != 3 || p.Rows != 6 || len(p.Running) != 0 {
		t.Errorf("unexpected final progress: %+v", p)
	}
}

func TestRunner_PartialGroups(t *testing.T) {
	tests := []struct {
		name         string
		allowPartial bool
		wantStatus   Status
		wantWritten  bool
		wantErr      bool
	}{
		{name: "partial rejected by default", allowPartial: false, wantStatus: StatusFailed, wantWritten: false, wantErr: true},
		{name: "partial allowed", allowPartial: true, wantStatus: StatusPartial, wantWritten: true, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &fakeFetcher{errs: map[string]error{"B01001": partialError("B01001")}}
			out := sink.NewMemorySink()

			cfg := DefaultConfig()
			cfg.AllowPartial = tt.allowPartial
			report, err := NewRunner(fetcher, testCatalog("B01001"), out, cfg).Run(context.Background(), []string{"B01001"})

			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}

			res := report.Results[0]
			if res.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", res.Status, tt.wantStatus)
			}
			if res.Written != tt.wantWritten {
				t.Errorf("Written = %v, want %v", res.Written, tt.wantWritten)
			}
			if len(res.Failures) != 1 {
				t.Errorf("Failures = %d, want 1", len(res.Failures))
			}
			if _, ok := out.Table("B01001"); ok != tt.wantWritten {
				t.Errorf("table in sink = %v, want %v", ok, tt.wantWritten)
			}
		})
	}
}

func TestRunner_EmptyGroupSkipped(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{"B99999": census.ErrEmptyGroup}}

	report, err := NewRunner(fetcher, testCatalog("B01001"), nil, DefaultConfig()).
		Run(context.Background(), []string{"B01001", "B99999"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	res := report.Results[1]
	if res.Status != StatusSkipped || res.Written {
		t.Errorf("empty group result = %+v", res)
	}
	if res.Table == nil || len(res.Table.Columns) != len(census.GeoColumns) {
		t.Errorf("empty group table should hold only the geographic columns, got %+v", res.Table)
	}
}

func TestRunner_SinkFailure(t *testing.T) {
	report, err := NewRunner(&fakeFetcher{}, testCatalog("B01001"), failingSink{}, DefaultConfig()).
		Run(context.Background(), []string{"B01001"})

	if err == nil {
		t.Fatal("Run() should fail when the sink rejects a table")
	}
	res := report.Results[0]
	if res.Status != StatusFailed || res.Written {
		t.Errorf("result = %+v", res)
	}
	if failed := report.Count(StatusFailed); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestRunner_BoundedConcurrency(t *testing.T) {
	groups := []string{"A", "B", "C", "D", "E", "F", "G"}
	fetcher := &fakeFetcher{delay: 20 * time.Millisecond}

	cfg := DefaultConfig()
	cfg.MaxConcurrency = 2
	if _, err := NewRunner(fetcher, testCatalog(groups...), nil, cfg).Run(context.Background(), groups); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if fetcher.maxInFlight > 2 {
		t.Errorf("max in flight = %d, want <= 2", fetcher.maxInFlight)
	}
	if len(fetcher.calls) != len(groups) {
		t.Errorf("fetched %d groups, want %d", len(fetcher.calls), len(groups))
	}
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{}
	report, err := NewRunner(fetcher, testCatalog("A", "B"), nil, DefaultConfig()).Run(ctx, []string{"A", "B"})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if report.Count(StatusCancelled) != 2 {
		t.Errorf("cancelled = %d, want 2", report.Count(StatusCancelled))
	}
	if len(fetcher.calls) != 0 {
		t.Errorf("groups fetched after cancellation: %v", fetcher.calls)
	}
}

func TestRunner_GroupTimeout(t *testing.T) {
	fetcher := &fakeFetcher{delay: time.Second}

	cfg := DefaultConfig()
	cfg.GroupTimeout = 10 * time.Millisecond
	report, err := NewRunner(fetcher, testCatalog("A"), nil, cfg).Run(context.Background(), []string{"A"})

	if err == nil {
		t.Fatal("Run() should report the timed out group")
	}
	if !errors.Is(report.Results[0].Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want deadline exceeded", report.Results[0].Err)
	}
	if report.Results[0].Status != StatusFailed {
		t.Errorf("Status = %s, want failed", report.Results[0].Status)
	}
}

func TestRunner_EndToEnd(t *testing.T) {
	mock := testutil.NewMockCensus()
	defer mock.Close()
	mock.AddVariable("B01001_001E", testutil.MockVariable{Label: "Estimate!!Total", Group: "B01001"})
	mock.AddVariable("B01001_002E", testutil.MockVariable{Label: "Estimate!!Total!!Male", Group: "B01001"})
	mock.AddVariable("B19013_001E", testutil.MockVariable{Label: "Estimate!!Median household income", Group: "B19013"})
	mock.AddCounty("10", "001", "Kent County, Delaware")
	mock.AddCounty("10", "003", "New Castle County, Delaware")
	mock.FailUnit("10", "003", 1, http.StatusBadGateway)

	cfg := client.DefaultConfig("test-key")
	cfg.BaseURL = mock.URL()
	cfg.RateLimit = ratelimit.Config{}
	cfg.Retry = client.FixedRetryConfig(time.Millisecond, 3)
	api, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error: %v", err)
	}
	defer api.Close()

	de, _ := census.LookupState("DE")
	ref, err := census.Load(context.Background(), api, census.LoadConfig{
		Dataset:     census.DefaultDataset(),
		States:      []census.State{de},
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	out := sink.NewMemorySink()
	fetcher := census.NewGroupFetcher(api, ref, census.DefaultFetcherConfig())
	runner := NewRunnerWithID(uuid.MustParse("00000000-0000-0000-0000-000000000001"), fetcher, ref.Catalog, out, DefaultConfig())

	report, err := runner.Run(context.Background(), ref.Catalog.Groups())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := out.Groups(); len(got) != 2 || got[0] != "B01001" || got[1] != "B19013" {
		t.Errorf("sink groups = %v", got)
	}
	table, _ := out.Table("B01001")
	if table.Len() != 8 || len(table.Columns) != 6 {
		t.Errorf("B01001 table = %d rows x %d columns, want 8 x 6", table.Len(), len(table.Columns))
	}
	if report.Rows() != 16 {
		t.Errorf("Rows() = %d, want 16", report.Rows())
	}
	if runner.RunID().String() != "00000000-0000-0000-0000-000000000001" {
		t.Errorf("RunID() = %s", runner.RunID())
	}
}

func TestReport_Err(t *testing.T) {
	report := &Report{Results: []GroupResult{
		{Group: "A", Status: StatusSucceeded},
		{Group: "B", Status: StatusFailed, Err: errors.New("boom")},
		{Group: "C", Status: StatusCancelled},
	}}

	err := report.Err()
	if err == nil {
		t.Fatal("Err() should report failures")
	}
	if got := err.Error(); got != "1 of 3 groups failed, 1 cancelled (first: B: boom)" {
		t.Errorf("Err() = %q", got)
	}

	ok := &Report{Results: []GroupResult{{Group: "A", Status: StatusSucceeded}, {Group: "B", Status: StatusSkipped}}}
	if ok.Err() != nil {
		t.Errorf("Err() = %v, want nil", ok.Err())
	}
}
