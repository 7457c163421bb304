package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/census-etl/internal/config"
	"github.com/Sternrassler/census-etl/internal/testutil"
	"github.com/Sternrassler/census-etl/pkg/census"
	"github.com/Sternrassler/census-etl/pkg/pipeline"
	"github.com/Sternrassler/census-etl/pkg/sink"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// newMockCensus starts a mock API with two groups and the two Delaware
// counties used below.
func newMockCensus(t *testing.T) *testutil.MockCensus {
	t.Helper()

	mock := testutil.NewMockCensus()
	t.Cleanup(mock.Close)

	mock.AddVariable("B01001_001E", testutil.MockVariable{Label: "Estimate!!Total", Concept: "SEX BY AGE", Group: "B01001"})
	mock.AddVariable("B01001_002E", testutil.MockVariable{Label: "Estimate!!Total!!Male", Concept: "SEX BY AGE", Group: "B01001"})
	mock.AddVariable("B19013_001E", testutil.MockVariable{Label: "Estimate!!Median household income", Concept: "MEDIAN HOUSEHOLD INCOME", Group: "B19013"})
	mock.AddCounty("10", "001", "Kent County, Delaware")
	mock.AddCounty("10", "003", "New Castle County, Delaware")
	return mock
}

// testConfig returns a valid configuration pointed at baseURL.
func testConfig(baseURL string) *config.Config {
	cfg := config.Defaults()
	cfg.Census.APIKey = "test-key"
	cfg.Census.BaseURL = baseURL
	cfg.Census.States = []string{"DE"}
	cfg.Rate.RequestsPerSecond = 0
	cfg.Retry.Profile = config.RetryProfileFixed
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxAttempts = 3
	return cfg
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	newRouter(newStatus(nil)).ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	runner := pipeline.NewRunner(nil, nil, nil, pipeline.DefaultConfig())

	t.Run("not_loaded", func(t *testing.T) {
		w := httptest.NewRecorder()
		readyHandler(newStatus(nil))(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}
	})

	t.Run("ready", func(t *testing.T) {
		st := newStatus(nil)
		st.setRunner(runner)

		w := httptest.NewRecorder()
		readyHandler(st)(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
		if w.Body.String() != "OK" {
			t.Errorf("Expected body 'OK', got %s", w.Body.String())
		}
	})

	t.Run("not_ready_redis_down", func(t *testing.T) {
		// Nothing listens on port 1
		rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		defer rdb.Close()

		st := newStatus(rdb)
		st.setRunner(runner)

		w := httptest.NewRecorder()
		readyHandler(st)(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}
	})
}

func TestStatusEndpoint(t *testing.T) {
	st := newStatus(nil)
	router := newRouter(st)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/status", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 while loading, got %d", w.Code)
	}

	runID := uuid.MustParse("00000000-0000-0000-0000-00000000002a")
	st.setRunner(pipeline.NewRunnerWithID(runID, nil, nil, nil, pipeline.DefaultConfig()))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var progress pipeline.Progress
	if err := json.NewDecoder(w.Body).Decode(&progress); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if progress.RunID != runID.String() {
		t.Errorf("run_id = %q, want %q", progress.RunID, runID)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	newRouter(newStatus(nil)).ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}

	// Unlabelled metrics are exported before any work is done
	for _, name := range []string{"census_groups_in_flight", "census_rows_total", "census_cache_hits_total"} {
		if !strings.Contains(bodyStr, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}

func TestSelectGroups(t *testing.T) {
	cat := census.NewCatalog([]census.Variable{
		{ID: "B01001_001E", Label: "Estimate!!Total", Group: "B01001"},
		{ID: "B01001_002E", Label: "Estimate!!Total!!Male", Group: "B01001"},
		{ID: "B19013_001E", Label: "Estimate!!Median", Group: "B19013"},
	})

	tests := []struct {
		name      string
		requested []string
		want      []string
		wantErr   bool
	}{
		{name: "all", requested: nil, want: []string{"B01001", "B19013"}},
		{name: "normalised", requested: []string{" b19013", "B19013"}, want: []string{"B19013"}},
		{name: "unknown", requested: []string{"B01001", "B99999"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectGroups(cat, tt.requested)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "B99999") {
					t.Errorf("selectGroups() error = %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("selectGroups() error = %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("selectGroups() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOpenSink(t *testing.T) {
	ctx := context.Background()
	runID := uuid.New()

	tests := []struct {
		kind string
		want string
	}{
		{"csv", "*sink.CSVSink"},
		{"memory", "*sink.MemorySink"},
		{"none", "sink.DiscardSink"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cfg := testConfig("http://unused")
			cfg.Output.Sink = tt.kind
			cfg.Output.Dir = t.TempDir()

			out, closeSink, err := openSink(ctx, cfg, runID)
			if err != nil {
				t.Fatalf("openSink() error = %v", err)
			}
			defer closeSink()

			switch out.(type) {
			case *sink.CSVSink, *sink.MemorySink, sink.DiscardSink:
			default:
				t.Errorf("openSink(%s) = %T, want %s", tt.kind, out, tt.want)
			}
		})
	}

	cfg := testConfig("http://unused")
	cfg.Output.Sink = "parquet"
	if _, _, err := openSink(ctx, cfg, runID); err == nil {
		t.Error("openSink() with unknown kind should fail")
	}
}

func TestRunETL_WritesCSV(t *testing.T) {
	mock := newMockCensus(t)

	cfg := testConfig(mock.URL())
	cfg.Output.Dir = t.TempDir()

	var out bytes.Buffer
	if err := runETL(context.Background(), cfg, &out); err != nil {
		t.Fatalf("runETL() error = %v\n%s", err, out.String())
	}

	if !strings.Contains(out.String(), "2 succeeded") {
		t.Errorf("report = %s", out.String())
	}

	csvSink, _ := sink.NewCSVSink(cfg.Output.Dir)
	for _, group := range []string{"B01001", "B19013"} {
		data, err := os.ReadFile(csvSink.Path(group))
		if err != nil {
			t.Fatalf("read %s: %v", group, err)
		}
		// Header plus two tracts of two block groups in each county
		if lines := strings.Count(string(data), "\n"); lines != 9 {
			t.Errorf("%s has %d lines, want 9", group, lines)
		}
	}
}

func TestRunETL_UnknownGroup(t *testing.T) {
	mock := newMockCensus(t)

	cfg := testConfig(mock.URL())
	cfg.Output.Sink = "none"
	cfg.Fetch.Groups = []string{"B99999"}

	if err := runETL(context.Background(), cfg, io.Discard); err == nil {
		t.Fatal("runETL() should reject unknown groups")
	}
}

func TestRootCmd_Groups(t *testing.T) {
	mock := newMockCensus(t)

	t.Setenv("CENSUS_KEY", "test-key")
	t.Setenv("CENSUS_BASE_URL", mock.URL())
	t.Setenv("CENSUS_STATES", "")
	t.Setenv("ETL_SINK", "none")
	t.Setenv("RATE_LIMIT_RPS", "0")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"groups"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"GROUP", "B01001", "SEX BY AGE", "B19013"} {
		if !strings.Contains(got, want) {
			t.Errorf("groups output missing %q:\n%s", want, got)
		}
	}
	// Largest group first
	if strings.Index(got, "B01001") > strings.Index(got, "B19013") {
		t.Errorf("groups not ordered by size:\n%s", got)
	}
}

func TestRootCmd_Variables(t *testing.T) {
	mock := newMockCensus(t)

	t.Setenv("CENSUS_KEY", "test-key")
	t.Setenv("CENSUS_BASE_URL", mock.URL())
	t.Setenv("CENSUS_STATES", "")
	t.Setenv("ETL_SINK", "none")
	t.Setenv("RATE_LIMIT_RPS", "0")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"variables", "b01001"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"B01001_001E", "estimate-total-male", "Estimate!!Total!!Male"} {
		if !strings.Contains(got, want) {
			t.Errorf("variables output missing %q:\n%s", want, got)
		}
	}
}
